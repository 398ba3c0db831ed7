package attachment

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Kind says where the bytes of a DataHandler live
type Kind int

const (
	KindBuffer Kind = iota
	KindFile
	KindCallback
)

var kinds = [...]string{"buffer", "file", "callback"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kinds) {
		return "unknown"
	}
	return kinds[k]
}

// DataHandler is one attachment's content plus its metadata.
// Only the payload selected by the kind is ever set: the constructors and the
// SetBinaryData, SetFileName and SetCallback setters are the only ways to change kind
// and they clear the payloads of the other kinds.
type DataHandler struct {
	kind        Kind
	contentType string
	// bare form, without the angle brackets
	mimeID string
	cached bool
	// Content-Transfer-Encoding the bytes are still in, empty for raw bytes
	transferEncoding string

	buffer   []byte
	fileName string

	sender    SendingCallback
	userParam interface{}
}

// New returns a FILE handler for fileName, or an empty BUFFER handler when fileName is empty
func New(fileName, contentType string) *DataHandler {
	if fileName != "" {
		return NewFile(fileName, contentType)
	}
	return NewBuffer(nil, contentType)
}

// NewBuffer returns an in-memory handler. data is not copied
func NewBuffer(data []byte, contentType string) *DataHandler {
	h := &DataHandler{contentType: contentType}
	h.SetBinaryData(data)
	return h
}

func NewFile(fileName, contentType string) *DataHandler {
	h := &DataHandler{contentType: contentType}
	h.SetFileName(fileName)
	return h
}

// NewCallback returns a handler whose bytes are pulled from sender with userParam
func NewCallback(sender SendingCallback, userParam interface{}, contentType string) *DataHandler {
	h := &DataHandler{contentType: contentType}
	h.SetCallback(sender, userParam)
	return h
}

func (h *DataHandler) reset(k Kind) {
	h.kind = k
	h.buffer = nil
	h.fileName = ""
	h.sender = nil
	h.userParam = nil
}

// SetBinaryData makes this a BUFFER handler holding data. A nil data is held as an empty buffer
func (h *DataHandler) SetBinaryData(data []byte) {
	h.reset(KindBuffer)
	if data == nil {
		data = []byte{}
	}
	h.buffer = data
	h.cached = false
}

// SetFileName makes this a FILE handler for fileName
func (h *DataHandler) SetFileName(fileName string) {
	h.reset(KindFile)
	h.fileName = fileName
}

// SetCallback makes this a CALLBACK handler
func (h *DataHandler) SetCallback(sender SendingCallback, userParam interface{}) {
	h.reset(KindCallback)
	h.sender = sender
	h.userParam = userParam
}

func (h *DataHandler) Kind() Kind {
	return h.kind
}

// ContentType defaults to application/octet-stream
func (h *DataHandler) ContentType() string {
	if h.contentType == "" {
		return DefaultContentType
	}
	return h.contentType
}

func (h *DataHandler) SetContentType(contentType string) {
	h.contentType = contentType
}

func (h *DataHandler) Cached() bool {
	return h.cached
}

func (h *DataHandler) SetCached(cached bool) {
	h.cached = cached
}

func (h *DataHandler) TransferEncoding() string {
	return h.transferEncoding
}

// SetTransferEncoding records the Content-Transfer-Encoding the content was received with
func (h *DataHandler) SetTransferEncoding(enc string) {
	h.transferEncoding = enc
}

// MimeID returns the bare Content-ID
func (h *DataHandler) MimeID() string {
	return h.mimeID
}

// SetMimeID accepts the bare or the bracketed form and stores the bare one
func (h *DataHandler) SetMimeID(id string) {
	h.mimeID = BareID(id)
}

// ContentID returns the bracketed Content-ID, empty when there is no id
func (h *DataHandler) ContentID() string {
	if h.mimeID == "" {
		return ""
	}
	return BracketID(h.mimeID)
}

// Buffer returns the resident bytes of a BUFFER handler, nil for the other kinds
func (h *DataHandler) Buffer() []byte {
	return h.buffer
}

// FileName returns the path of a FILE handler
func (h *DataHandler) FileName() string {
	return h.fileName
}

// Sender returns the sending callback of a CALLBACK handler
func (h *DataHandler) Sender() SendingCallback {
	return h.sender
}

// UserParam returns the parameter given to the sending callback
func (h *DataHandler) UserParam() interface{} {
	return h.userParam
}

// ReadFrom returns the whole content, whatever its kind.
// A BUFFER handler returns its own buffer, the other kinds return a new slice
func (h *DataHandler) ReadFrom() ([]byte, error) {
	switch h.kind {
	case KindBuffer:
		return h.buffer, nil
	case KindFile:
		b, err := ioutil.ReadFile(h.fileName)
		if err != nil {
			return nil, errors.Wrapf(ErrIO, "read %s: %v", h.fileName, err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil
	case KindCallback:
		var buf bytes.Buffer
		err := Drain(h.sender, h.userParam, func(chunk []byte) error {
			buf.Write(chunk)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, errors.Wrapf(ErrIO, "unknown data handler kind %d", h.kind)
}

// Open returns a reader over the content. The reader of a CALLBACK handler produces the chunks
// of a single InitHandler/CloseHandler sequence, Close must always be called
func (h *DataHandler) Open() (io.ReadCloser, error) {
	switch h.kind {
	case KindBuffer:
		return ioutil.NopCloser(bytes.NewReader(h.buffer)), nil
	case KindFile:
		f, err := os.Open(h.fileName)
		if err != nil {
			return nil, errors.Wrapf(ErrIO, "open %s: %v", h.fileName, err)
		}
		return f, nil
	case KindCallback:
		return newCallbackReader(h.sender, h.userParam)
	}
	return nil, errors.Wrapf(ErrIO, "unknown data handler kind %d", h.kind)
}

// WriteTo writes the content to the file at path, creating or truncating it.
// A FILE handler asked to write to its own file does nothing
func (h *DataHandler) WriteTo(path string) (err error) {
	if h.kind == KindFile && samePath(h.fileName, path) {
		return nil
	}
	r, err := h.Open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(ErrIO, "close source: %v", closeErr)
		}
	}()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(ErrIO, "create %s: %v", path, err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrapf(ErrIO, "write %s: %v", path, err)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(ErrIO, "close %s: %v", path, err)
	}
	return nil
}

// AddBinaryData appends the parts carrying the content to list.
// Files and callbacks are only referenced, the transport reads them when it writes the list.
// An empty file adds nothing
func (h *DataHandler) AddBinaryData(list *PartList) error {
	switch h.kind {
	case KindBuffer:
		list.AddBuffer(h.buffer)
		return nil
	case KindFile:
		fi, err := os.Stat(h.fileName)
		if err != nil {
			return errors.Wrapf(ErrIO, "stat %s: %v", h.fileName, err)
		}
		if fi.Size() == 0 {
			return nil
		}
		list.AddFile(h.fileName, fi.Size())
		return nil
	case KindCallback:
		if h.sender == nil {
			return errors.Wrap(ErrIO, "callback data handler without a sending callback")
		}
		list.AddCallback(h.sender, h.userParam)
		return nil
	}
	return errors.Wrapf(ErrIO, "unknown data handler kind %d", h.kind)
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// callbackReader adapts a SendingCallback to io.ReadCloser
type callbackReader struct {
	sender SendingCallback
	h      Handle
	chunk  []byte
	done   bool
	closed bool
}

func newCallbackReader(sender SendingCallback, userParam interface{}) (*callbackReader, error) {
	if sender == nil {
		return nil, errors.Wrap(ErrIO, "no sending callback")
	}
	h, err := sender.InitHandler(userParam)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "init sending handler: %v", err)
	}
	return &callbackReader{sender: sender, h: h}, nil
}

func (r *callbackReader) Read(p []byte) (int, error) {
	for len(r.chunk) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk, err := r.sender.LoadData(r.h)
		if err != nil {
			return 0, errors.Wrapf(ErrIO, "load data: %v", err)
		}
		if len(chunk) == 0 {
			r.done = true
			continue
		}
		r.chunk = chunk
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	return n, nil
}

func (r *callbackReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.sender.CloseHandler(r.h)
}
