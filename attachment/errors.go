package attachment

import (
	"errors"
	"strings"

	"github.com/flashmob/go-mtom/chunk"
)

var (
	ErrIO = chunk.ErrIO
	// ErrUnknownCallback is returned when no callback was registered with the given name
	ErrUnknownCallback = errors.New("callback not registered")
	// ErrConfig is returned when a callback's config is missing a value or has the wrong type
	ErrConfig = errors.New("invalid callback config")
)

const DefaultContentType = "application/octet-stream"

// BareID strips surrounding whitespace and angle brackets from a Content-ID
func BareID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 2 && id[0] == '<' && id[len(id)-1] == '>' {
		return strings.TrimSpace(id[1 : len(id)-1])
	}
	return id
}

// BracketID returns the Content-ID in the <id> form used as a header value and as a parts map key
func BracketID(id string) string {
	return "<" + BareID(id) + ">"
}
