package mime

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strings"

	mtextproto "github.com/emersion/go-message/textproto"
	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
)

const (
	HeaderContentID               = "Content-ID"
	HeaderContentType             = "Content-Type"
	HeaderContentTransferEncoding = "Content-Transfer-Encoding"
)

// Field is a single header line
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Names are compared case-insensitively
// and the fields are written in the order they were first set
type Header struct {
	fields []Field
}

func canonical(name string) string {
	if strings.EqualFold(name, HeaderContentID) {
		return HeaderContentID
	}
	return textproto.CanonicalMIMEHeaderKey(name)
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			return i
		}
	}
	return -1
}

// Set replaces the value of name keeping its position, or appends it
func (h *Header) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].Value = value
		return
	}
	h.fields = append(h.fields, Field{Name: canonical(name), Value: value})
}

// Add appends a field even if name is already present
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: canonical(name), Value: value})
}

// Get returns the first value of name
func (h *Header) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h.fields[i].Value
	}
	return ""
}

func (h *Header) Has(name string) bool {
	return h.index(name) >= 0
}

func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

func (h *Header) Len() int {
	return len(h.fields)
}

// Fields returns the fields in order
func (h *Header) Fields() []Field {
	return h.fields
}

// WriteTo writes "Name: Value\r\n" for every field
func (h *Header) WriteTo(buf *bytes.Buffer) {
	for _, f := range h.fields {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
}

// ContentID returns the bare Content-ID, the text between the angle brackets
func (h *Header) ContentID() string {
	v := h.Get(HeaderContentID)
	if start := strings.IndexByte(v, '<'); start >= 0 {
		if end := strings.IndexByte(v[start:], '>'); end > 0 {
			return strings.TrimSpace(v[start+1 : start+end])
		}
	}
	return attachment.BareID(v)
}

// ContentType returns the Content-Type value, empty when absent
func (h *Header) ContentType() string {
	return strings.TrimSpace(h.Get(HeaderContentType))
}

func (h *Header) TransferEncoding() string {
	return strings.ToLower(strings.TrimSpace(h.Get(HeaderContentTransferEncoding)))
}

// parseHeader reads a header block. block is what follows a boundary up to, not including,
// the blank line that ends the headers. The remainder of the boundary line is skipped
func parseHeader(block []byte) (Header, error) {
	var h Header
	if i := bytes.Index(block, []byte("\r\n")); i >= 0 && len(bytes.TrimSpace(block[:i])) == 0 {
		block = block[i+2:]
	}
	if len(bytes.TrimSpace(block)) == 0 {
		return h, nil
	}
	r := bufio.NewReader(bytes.NewReader(append(block, "\r\n\r\n"...)))
	mh, err := mtextproto.ReadHeader(r)
	if err != nil {
		return h, errors.Wrapf(ErrMalformedStream, "part header: %v", err)
	}
	fields := mh.Fields()
	for fields.Next() {
		h.Add(fields.Key(), fields.Value())
	}
	return h, nil
}
