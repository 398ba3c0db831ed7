package transport

import (
	"bufio"
	"io"
	gomime "mime"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/chunk"
	"github.com/flashmob/go-mtom/log"
)

// DefaultChunkSize is the size of the reads made from file parts
const DefaultChunkSize = 1024

var ErrUnknownPart = errors.New("unknown mime part type")

// Sender writes a part list to the wire
type Sender struct {
	ChunkSize int
	Log       log.Logger
}

func NewSender() *Sender {
	return &Sender{ChunkSize: DefaultChunkSize, Log: log.Default()}
}

// Send writes every part of list to w in order and returns the number of bytes written.
// Callback parts are pulled chunk by chunk and their handlers are always closed
func (s *Sender) Send(w io.Writer, list *attachment.PartList) (written int64, err error) {
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	l := s.Log
	if l == nil {
		l = log.Default()
	}
	write := func(b []byte) error {
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return errors.Wrapf(chunk.ErrIO, "write: %v", err)
		}
		return nil
	}
	var buf []byte
	for i, p := range list.Parts() {
		switch p.Type {
		case attachment.PartBuffer:
			err = write(p.Data)
		case attachment.PartFile:
			if buf == nil {
				buf = make([]byte, size)
			}
			err = sendFile(p.FileName, buf, write)
		case attachment.PartCallback:
			err = attachment.Drain(p.Sender, p.UserParam, write)
		default:
			err = errors.Wrapf(ErrUnknownPart, "part %d of type %s", i, p.Type)
		}
		if err != nil {
			l.WithError(err).Errorf("sending part %d (%s) failed", i, p.Type)
			return written, err
		}
	}
	if bw, ok := w.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return written, errors.Wrapf(chunk.ErrIO, "flush: %v", err)
		}
	}
	l.Debugf("sent %d parts, %d bytes", list.Len(), written)
	return written, nil
}

func sendFile(name string, buf []byte, write func([]byte) error) error {
	f, err := os.Open(name)
	if err != nil {
		return errors.Wrapf(chunk.ErrIO, "open %s: %v", name, err)
	}
	defer f.Close()
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(chunk.ErrIO, "read %s: %v", name, err)
		}
	}
}

// NewReaderCallback adapts r to the read callback the mime parser pulls its input from
func NewReaderCallback(r io.Reader) (chunk.ReadCallback, interface{}) {
	return chunk.ReaderCallback, r
}

// BoundaryFromContentType returns the boundary parameter of a multipart Content-Type
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, err := gomime.ParseMediaType(contentType)
	if err != nil {
		return "", errors.Wrapf(chunk.ErrMalformedStream, "content type %q: %v", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", errors.Wrapf(chunk.ErrMalformedStream, "%s is not multipart", mediaType)
	}
	b := params["boundary"]
	if b == "" {
		return "", errors.Wrapf(chunk.ErrMalformedStream, "no boundary in %q", contentType)
	}
	return b, nil
}
