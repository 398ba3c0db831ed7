package mime

import (
	"bytes"
	"encoding/base64"
	"io"
	"io/ioutil"
	gomime "mime"
	"strings"

	"github.com/pkg/errors"
	"github.com/sloonz/go-qprintable"
	cs "golang.org/x/net/html/charset"

	"github.com/flashmob/go-mtom/attachment"
)

// DecodeBody wraps r so that it yields the decoded bytes of a part sent with the given
// Content-Transfer-Encoding. binary, 8bit, 7bit and unknown encodings are passed through
func DecodeBody(transferEncoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	case "quoted-printable":
		return qprintable.NewDecoder(qprintable.BinaryEncoding, r)
	}
	return r
}

// Encoded reports whether DecodeBody changes a body sent with transferEncoding
func Encoded(transferEncoding string) bool {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64", "quoted-printable":
		return true
	}
	return false
}

type decodedReader struct {
	io.Reader
	io.Closer
}

func (d decodedReader) Read(p []byte) (int, error) {
	n, err := d.Reader.Read(p)
	if err != nil && err != io.EOF {
		err = errors.Wrapf(ErrMalformedStream, "decode body: %v", err)
	}
	return n, err
}

// Open returns a reader over the decoded content of h
func Open(h *attachment.DataHandler) (io.ReadCloser, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, err
	}
	if !Encoded(h.TransferEncoding()) {
		return rc, nil
	}
	return decodedReader{Reader: DecodeBody(h.TransferEncoding(), rc), Closer: rc}, nil
}

// ReadDecoded returns the whole content of h with its transfer encoding undone
func ReadDecoded(h *attachment.DataHandler) ([]byte, error) {
	if !Encoded(h.TransferEncoding()) {
		return h.ReadFrom()
	}
	r, err := Open(h)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

// newlineStripper drops the CR and LF bytes of a base64 body broken into lines
type newlineStripper struct {
	r io.Reader
}

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		j := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

// Charset returns the charset parameter of a Content-Type, lower cased. It defaults to utf-8
func Charset(contentType string) string {
	if contentType == "" {
		return "utf-8"
	}
	_, params, err := gomime.ParseMediaType(contentType)
	if err != nil {
		return "utf-8"
	}
	if c := strings.Trim(params["charset"], `"' `); c != "" {
		return strings.ToLower(c)
	}
	return "utf-8"
}

// ToUTF8 converts body from the charset named by contentType
func ToUTF8(body []byte, contentType string) (string, error) {
	charset := Charset(contentType)
	if charset == "utf-8" || charset == "utf8" || charset == "us-ascii" {
		return string(body), nil
	}
	r, err := cs.NewReaderLabel(charset, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrapf(err, "charset %s", charset)
	}
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return "", errors.Wrapf(ErrIO, "decode %s: %v", charset, err)
	}
	return string(b), nil
}
