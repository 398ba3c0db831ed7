package chunk

import "errors"

var (
	// ErrIO is returned when the read callback, a file or a storage callback fails
	ErrIO = errors.New("i/o error")
	// ErrResourceExhausted is returned when a part needs more than the max buffer count
	ErrResourceExhausted = errors.New("max buffers exceeded")
	// ErrMalformedStream is returned when a marker was never seen, or a part is truncated
	ErrMalformedStream = errors.New("malformed mime stream")
	// ErrNoMemory is returned when a buffer could not be allocated
	ErrNoMemory = errors.New("no memory")
)
