package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/chunk"
	"github.com/flashmob/go-mtom/ev"
	"github.com/flashmob/go-mtom/log"
	"github.com/flashmob/go-mtom/mime"
)

// EnvPrefix is the prefix of the environment variables that override config values
const EnvPrefix = "MTOM_"

const (
	DefaultListenInterface = "127.0.0.1:8089"
	DefaultRedisDriver     = "redigo"
)

var ErrInvalid = errors.New("invalid config")

// AppConfig is the holder of the configuration of the app
type AppConfig struct {
	LogFile         string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogLevel        string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	PidFile         string `json:"pid_file,omitempty" yaml:"pid_file,omitempty"`
	ListenInterface string `json:"listen_interface" yaml:"listen_interface"`

	BufferSize      int    `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	MaxBuffers      int    `json:"max_buffers,omitempty" yaml:"max_buffers,omitempty"`
	MaxMisses       int    `json:"max_misses,omitempty" yaml:"max_misses,omitempty"`
	AttachmentDir   string `json:"attachment_dir,omitempty" yaml:"attachment_dir,omitempty"`
	CachingCallback string `json:"caching_callback,omitempty" yaml:"caching_callback,omitempty"`
	SendingCallback string `json:"sending_callback,omitempty" yaml:"sending_callback,omitempty"`
	MimeBoundary    string `json:"mime_boundary,omitempty" yaml:"mime_boundary,omitempty"`
	// ChunkSize is the size of the writes the transport makes from file parts
	ChunkSize   int    `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	RedisDriver string `json:"redis_driver,omitempty" yaml:"redis_driver,omitempty"`

	CallbackConfig attachment.CallbackConfig `json:"callback_config,omitempty" yaml:"callback_config,omitempty"`
}

// Load reads the config at path, JSON or YAML depending on its extension.
// envFile, if it exists, is loaded into the environment first. ${VAR} references in the
// file are expanded, then MTOM_* variables override the values read
func Load(path, envFile string) (*AppConfig, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err = godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "could not load environment from %s", envFile)
			}
		}
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	c := &AppConfig{}
	if err := c.Unmarshal([]byte(os.ExpandEnv(string(b))), filepath.Ext(path)); err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Prepare()
}

// Unmarshal decodes b as YAML when ext is .yaml or .yml, JSON otherwise
func (c *AppConfig) Unmarshal(b []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, c); err != nil {
			return errors.Wrap(err, "could not parse config file")
		}
	default:
		if err := json.Unmarshal(b, c); err != nil {
			return errors.Wrap(err, "could not parse config file")
		}
	}
	return nil
}

// Prepare fills in the defaults and validates
func (c *AppConfig) Prepare() error {
	c.setDefaults()
	return c.validate()
}

func (c *AppConfig) setDefaults() {
	if c.LogFile == "" {
		c.LogFile = log.OutputStderr.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = log.InfoLevel.String()
	}
	if c.ListenInterface == "" {
		c.ListenInterface = DefaultListenInterface
	}
	if c.BufferSize == 0 {
		c.BufferSize = chunk.DefaultBufferSize
	}
	if c.MaxBuffers == 0 {
		c.MaxBuffers = chunk.DefaultMaxBuffers
	}
	if c.MaxMisses == 0 {
		c.MaxMisses = chunk.DefaultMaxMisses
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1024
	}
	if c.RedisDriver == "" {
		c.RedisDriver = DefaultRedisDriver
	}
	if c.CallbackConfig == nil {
		c.CallbackConfig = attachment.CallbackConfig{}
	}
}

func (c *AppConfig) validate() error {
	if c.BufferSize < 0 {
		return errors.Wrapf(ErrInvalid, "buffer_size %d", c.BufferSize)
	}
	if c.MaxBuffers < 0 {
		return errors.Wrapf(ErrInvalid, "max_buffers %d", c.MaxBuffers)
	}
	if c.ChunkSize < 0 {
		return errors.Wrapf(ErrInvalid, "chunk_size %d", c.ChunkSize)
	}
	if c.AttachmentDir != "" {
		fi, err := os.Stat(c.AttachmentDir)
		if err != nil {
			return errors.Wrapf(ErrInvalid, "attachment_dir: %v", err)
		}
		if !fi.IsDir() {
			return errors.Wrapf(ErrInvalid, "attachment_dir %s is not a directory", c.AttachmentDir)
		}
	}
	names := attachment.Registered()
	for _, cb := range []string{c.CachingCallback, c.SendingCallback} {
		if cb != "" && !contains(names, strings.ToLower(cb)) {
			return errors.Wrapf(ErrInvalid, "callback %q is not one of %v", cb, names)
		}
	}
	switch c.RedisDriver {
	case "redigo", "goredis":
	default:
		return errors.Wrapf(ErrInvalid, "redis_driver %q, expecting redigo or goredis", c.RedisDriver)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ParserConfig returns the mime parser settings
func (c *AppConfig) ParserConfig() mime.Config {
	return mime.Config{
		BufferSize:      c.BufferSize,
		MaxBuffers:      c.MaxBuffers,
		MaxMisses:       c.MaxMisses,
		AttachmentDir:   c.AttachmentDir,
		CachingCallback: c.CachingCallback,
		CallbackConfig:  c.CallbackConfig,
		MimeBoundary:    c.MimeBoundary,
	}
}

// ApplyEnv overrides the string, int and bool fields with the MTOM_<JSON NAME> variables found by lookup
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		value, ok := lookup(EnvPrefix + strings.ToUpper(name))
		if !ok {
			continue
		}
		f := v.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(value)
		case reflect.Int:
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(ErrInvalid, "%s%s: %v", EnvPrefix, strings.ToUpper(name), err)
			}
			f.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errors.Wrapf(ErrInvalid, "%s%s: %v", EnvPrefix, strings.ToUpper(name), err)
			}
			f.SetBool(b)
		}
	}
	return nil
}

// EmitChangeEvents publishes the changes between oldConfig and c onto the event bus
func (c *AppConfig) EmitChangeEvents(oldConfig *AppConfig, bus *ev.EventHandler) {
	changes := getDiff(*oldConfig, *c)
	if len(changes) > 0 || !reflect.DeepEqual(oldConfig.CallbackConfig, c.CallbackConfig) {
		bus.Publish(ev.ConfigNewConfig, c)
	}
	// has the log file changed?
	if _, ok := changes["LogFile"]; ok {
		bus.Publish(ev.ConfigLogFile, c)
	} else {
		// since the log file has not changed, we reopen it
		bus.Publish(ev.ConfigLogReopen, c)
	}
	if _, ok := changes["LogLevel"]; ok {
		bus.Publish(ev.ConfigLogLevel, c)
	}
	if _, ok := changes["ListenInterface"]; ok {
		bus.Publish(ev.ConfigListenInterface, c)
	}
	if _, ok := changes["AttachmentDir"]; ok {
		bus.Publish(ev.ConfigAttachmentDir, c)
	}
	if hasAny(changes, "CachingCallback", "SendingCallback", "RedisDriver") ||
		!reflect.DeepEqual(oldConfig.CallbackConfig, c.CallbackConfig) {
		bus.Publish(ev.ConfigCallback, c)
	}
	if hasAny(changes, "BufferSize", "MaxBuffers", "MaxMisses", "MimeBoundary", "ChunkSize") {
		bus.Publish(ev.ConfigParserLimits, c)
	}
}

// EmitLogReopenEvents emits log reopen events using the existing config
func (c *AppConfig) EmitLogReopenEvents(bus *ev.EventHandler) {
	bus.Publish(ev.ConfigLogReopen, c)
}

func hasAny(changes map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := changes[k]; ok {
			return true
		}
	}
	return false
}

// Returns a diff between struct a & struct b.
// Results are returned in a map, where each key is the name of the field that was different.
// a and b are struct values of the same type, must not be pointers
func getDiff(a interface{}, b interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, 5)
	compareWith := structtomap(b)
	for key, val := range structtomap(a) {
		if val != compareWith[key] {
			ret[key] = compareWith[key]
		}
	}
	return ret
}

// Convert fields of a struct to a map
// only able to convert int, bool and string; not recursive
func structtomap(obj interface{}) map[string]interface{} {
	ret := make(map[string]interface{})
	v := reflect.ValueOf(obj)
	t := v.Type()
	for index := 0; index < v.NumField(); index++ {
		vField := v.Field(index)
		fName := t.Field(index).Name
		switch vField.Kind() {
		case reflect.Int:
			ret[fName] = vField.Int()
		case reflect.String:
			ret[fName] = vField.String()
		case reflect.Bool:
			ret[fName] = vField.Bool()
		}
	}
	return ret
}
