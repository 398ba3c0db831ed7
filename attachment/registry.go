package attachment

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// CallbackConfig is the "callback_config" section of the app config, as unmarshalled from json or yaml
type CallbackConfig map[string]interface{}

type CachingConstructor func(cfg CallbackConfig) (CachingCallback, error)

type SendingConstructor func(cfg CallbackConfig) (SendingCallback, error)

var (
	registryMu sync.RWMutex
	// CachingCallbacks maps a configured name to the constructor of a caching strategy
	CachingCallbacks = map[string]CachingConstructor{}
	// SendingCallbacks maps a configured name to the constructor of a sending strategy
	SendingCallbacks = map[string]SendingConstructor{}
)

// RegisterCaching makes a caching strategy available by name. Registering a name again replaces it
func RegisterCaching(name string, c CachingConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	CachingCallbacks[strings.ToLower(name)] = c
}

// RegisterSending makes a sending strategy available by name
func RegisterSending(name string, c SendingConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	SendingCallbacks[strings.ToLower(name)] = c
}

// NewCachingCallback resolves name in the registry and constructs the callback with cfg
func NewCachingCallback(name string, cfg CallbackConfig) (CachingCallback, error) {
	registryMu.RLock()
	c, ok := CachingCallbacks[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCallback, "caching callback %q", name)
	}
	return c(cfg)
}

// NewSendingCallback resolves name in the registry and constructs the callback with cfg
func NewSendingCallback(name string, cfg CallbackConfig) (SendingCallback, error) {
	registryMu.RLock()
	c, ok := SendingCallbacks[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCallback, "sending callback %q", name)
	}
	return c(cfg)
}

// Registered returns the names of the registered caching callbacks
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(CachingCallbacks))
	for name := range CachingCallbacks {
		names = append(names, name)
	}
	return names
}

// ExtractConfig copies the values of cfg into the struct pointed by configType.
// Fields are matched by their json tag (or field name). A field tagged with omitempty may be
// absent, all the others must be present and of the right type.
// The reason for using reflection is that we get a nice error message if a field is missing,
// json.Marshal() then json.Unmarshal() would not tell us which one
func ExtractConfig(cfg CallbackConfig, configType interface{}) (interface{}, error) {
	s := reflect.ValueOf(configType).Elem()
	t := s.Type()

	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		fieldName := t.Field(i).Name
		optional := false
		if tag := t.Field(i).Tag.Get("json"); len(tag) > 0 {
			split := strings.Split(tag, ",")
			if split[0] != "" {
				fieldName = split[0]
			}
			for _, opt := range split[1:] {
				if opt == "omitempty" {
					optional = true
				}
			}
		}
		v, present := cfg[fieldName]
		if !present {
			if optional {
				continue
			}
			return configType, errors.Wrapf(ErrConfig, "property missing: '%s'", fieldName)
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int64, reflect.Int32:
			switch n := v.(type) {
			case float64:
				f.SetInt(int64(n))
			case int:
				f.SetInt(int64(n))
			case int64:
				f.SetInt(n)
			default:
				return configType, errors.Wrapf(ErrConfig, "property invalid: '%s' of expected type: %s", fieldName, f.Type().Name())
			}
		case reflect.String:
			str, ok := v.(string)
			if !ok {
				return configType, errors.Wrapf(ErrConfig, "property invalid: '%s' of expected type: %s", fieldName, f.Type().Name())
			}
			f.SetString(str)
		case reflect.Bool:
			b, ok := v.(bool)
			if !ok {
				return configType, errors.Wrapf(ErrConfig, "property invalid: '%s' of expected type: %s", fieldName, f.Type().Name())
			}
			f.SetBool(b)
		}
	}
	return configType, nil
}
