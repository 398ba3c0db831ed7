package mime

import (
	"errors"

	"github.com/flashmob/go-mtom/chunk"
)

var (
	ErrIO                = chunk.ErrIO
	ErrResourceExhausted = chunk.ErrResourceExhausted
	ErrMalformedStream   = chunk.ErrMalformedStream
	ErrNoMemory          = chunk.ErrNoMemory
	// ErrNoBoundary is returned when a parse is started without a boundary
	ErrNoBoundary = errors.New("no mime boundary")
)
