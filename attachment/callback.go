package attachment

import (
	"github.com/pkg/errors"
)

// Handle is the token a callback gives out from InitHandler and gets back on every later call
type Handle interface{}

// CachingCallback stores an incoming attachment somewhere other than memory.
// InitHandler is called once per key before any Cache call, CloseHandler once at the end.
// Any error aborts the parse that is using the callback.
type CachingCallback interface {
	InitHandler(key string) (Handle, error)
	Cache(data []byte, h Handle) error
	CloseHandler(h Handle) error
	Free() error
}

// SendingCallback pulls an outbound attachment in chunks.
// LoadData returns a zero length chunk once the data is exhausted.
// The returned slice belongs to the callback and is only valid until the next LoadData or CloseHandler.
type SendingCallback interface {
	InitHandler(userParam interface{}) (Handle, error)
	LoadData(h Handle) ([]byte, error)
	CloseHandler(h Handle) error
	Free() error
}

// ParamReceiver is implemented by callbacks that want the user param given to a parse
type ParamReceiver interface {
	SetUserParam(param interface{})
}

// Retriever is implemented by caching callbacks that can read back what they stored.
// The returned SendingCallback takes the caching key as its user param
type Retriever interface {
	Sender() SendingCallback
}

// CacheTo opens a caching handler for key and calls fn with a function that caches a chunk.
// The handler is always closed, and the first error encountered is returned
func CacheTo(cb CachingCallback, key string, fn func(cache func([]byte) error) error) (err error) {
	h, err := cb.InitHandler(key)
	if err != nil {
		return errors.Wrapf(ErrIO, "init caching handler for %s: %v", key, err)
	}
	defer func() {
		if closeErr := cb.CloseHandler(h); closeErr != nil && err == nil {
			err = errors.Wrapf(ErrIO, "close caching handler for %s: %v", key, closeErr)
		}
	}()
	return fn(func(data []byte) error {
		if cacheErr := cb.Cache(data, h); cacheErr != nil {
			return errors.Wrapf(ErrIO, "cache %s: %v", key, cacheErr)
		}
		return nil
	})
}

// Drain opens a sending handler for userParam and passes every chunk to fn until the callback
// signals the end. The handler is always closed
func Drain(sender SendingCallback, userParam interface{}, fn func([]byte) error) (err error) {
	if sender == nil {
		return errors.Wrap(ErrIO, "no sending callback")
	}
	h, err := sender.InitHandler(userParam)
	if err != nil {
		return errors.Wrapf(ErrIO, "init sending handler: %v", err)
	}
	defer func() {
		if closeErr := sender.CloseHandler(h); closeErr != nil && err == nil {
			err = errors.Wrapf(ErrIO, "close sending handler: %v", closeErr)
		}
	}()
	for {
		chunk, loadErr := sender.LoadData(h)
		if loadErr != nil {
			return errors.Wrapf(ErrIO, "load data: %v", loadErr)
		}
		if len(chunk) == 0 {
			return nil
		}
		if err = fn(chunk); err != nil {
			return err
		}
	}
}
