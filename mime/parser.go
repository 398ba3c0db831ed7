package mime

import (
	"os"

	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/chunk"
	"github.com/flashmob/go-mtom/ev"
	"github.com/flashmob/go-mtom/log"
)

// MaxParts bounds how many attachment parts a single message may have
const MaxParts = 100

var (
	crlf       = []byte("\r\n")
	headersEnd = []byte("\r\n\r\n")
	dashes     = []byte("--")
)

// Config holds everything a Parser needs to be set up before parsing
type Config struct {
	// BufferSize of each physical read, defaults to chunk.DefaultBufferSize
	BufferSize int
	// MaxBuffers held at once, defaults to chunk.DefaultMaxBuffers
	MaxBuffers int
	// MaxMisses is how many times a boundary search may scan MaxBuffers buffers without a match,
	// 0 for chunk.DefaultMaxMisses, negative for no limit. Bodies kept in memory hit MaxBuffers first
	MaxMisses int
	// AttachmentDir, when set, is where attachment parts are spooled to
	AttachmentDir string
	// CachingCallback names a registered caching callback, used when AttachmentDir is empty
	CachingCallback string
	// CallbackConfig is passed to the callback constructor
	CallbackConfig attachment.CallbackConfig
	// MimeBoundary overrides the boundary given to the parse calls
	MimeBoundary string
}

// Parser splits a multipart/related stream into the root SOAP part and its attachments.
// A Parser is used for one message by one goroutine
type Parser struct {
	bufferSize    int
	maxBuffers    int
	maxMisses     int
	attachmentDir string
	callbackName  string
	caching       attachment.CachingCallback
	override      string
	boundary      string
	userParam     interface{}

	scanner   *chunk.Scanner
	marker    []byte
	soap      []byte
	root      Header
	parts     map[string]*attachment.DataHandler
	endOfMime bool

	log log.Logger
	bus *ev.EventHandler
}

// NewParser returns a parser with the default limits
func NewParser() *Parser {
	return &Parser{
		bufferSize: chunk.DefaultBufferSize,
		maxBuffers: chunk.DefaultMaxBuffers,
		maxMisses:  chunk.DefaultMaxMisses,
		log:        log.Default(),
	}
}

// NewParserFromConfig returns a parser set up with c. The caching callback is resolved here
func NewParserFromConfig(c Config) (*Parser, error) {
	p := NewParser()
	if c.BufferSize > 0 {
		p.SetBufferSize(c.BufferSize)
	}
	if c.MaxBuffers > 0 {
		p.SetMaxBuffers(c.MaxBuffers)
	}
	if c.MaxMisses != 0 {
		p.SetMaxMisses(c.MaxMisses)
	}
	p.SetAttachmentDir(c.AttachmentDir)
	p.SetMimeBoundary(c.MimeBoundary)
	if c.CachingCallback != "" {
		if err := p.SetCachingCallbackName(c.CachingCallback, c.CallbackConfig); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Parser) SetBufferSize(size int) {
	p.bufferSize = size
}

func (p *Parser) SetMaxBuffers(max int) {
	p.maxBuffers = max
}

func (p *Parser) SetMaxMisses(max int) {
	p.maxMisses = max
}

// SetAttachmentDir makes the parser spool attachments to files under dir
func (p *Parser) SetAttachmentDir(dir string) {
	p.attachmentDir = dir
}

// SetCachingCallbackName resolves name with the attachment registry
func (p *Parser) SetCachingCallbackName(name string, cfg attachment.CallbackConfig) error {
	cb, err := attachment.NewCachingCallback(name, cfg)
	if err != nil {
		return err
	}
	p.callbackName = name
	p.caching = cb
	return nil
}

// SetCachingCallback injects a caching strategy
func (p *Parser) SetCachingCallback(cb attachment.CachingCallback) {
	p.caching = cb
	if p.callbackName == "" {
		p.callbackName = "injected"
	}
}

// SetMimeBoundary overrides the boundary passed to ParseForSoap and ParseForAttachments
func (p *Parser) SetMimeBoundary(boundary string) {
	p.override = boundary
}

// Boundary returns the boundary of the message being parsed
func (p *Parser) Boundary() string {
	return p.boundary
}

func (p *Parser) SetLogger(l log.Logger) {
	p.log = l
}

// SetEventHandler makes the parser publish its events on bus
func (p *Parser) SetEventHandler(bus *ev.EventHandler) {
	p.bus = bus
}

// SoapBody returns the root part, nil before a successful parse
func (p *Parser) SoapBody() []byte {
	return p.soap
}

func (p *Parser) SoapBodyLen() int {
	return len(p.soap)
}

// SoapBodyUTF8 returns the root part converted from the charset of its Content-Type
func (p *Parser) SoapBodyUTF8() (string, error) {
	return ToUTF8(p.soap, p.root.ContentType())
}

// RootHeader returns the headers of the root part
func (p *Parser) RootHeader() *Header {
	return &p.root
}

// Parts returns the attachments of the last successful ParseForAttachments
func (p *Parser) Parts() map[string]*attachment.DataHandler {
	return p.parts
}

// EndOfMime reports whether the closing boundary was seen
func (p *Parser) EndOfMime() bool {
	return p.endOfMime
}

// Free releases the caching callback
func (p *Parser) Free() error {
	if p.caching == nil {
		return nil
	}
	return p.caching.Free()
}

func (p *Parser) publish(topic ev.Event, args ...interface{}) {
	if p.bus != nil {
		p.bus.Publish(topic, args...)
	}
}

func (p *Parser) fail(err error) error {
	p.log.WithBoundary(p.boundary).WithError(err).Error("mime parse failed")
	p.publish(ev.ParseFailed, err)
	p.scanner = nil
	p.soap = nil
	p.parts = nil
	return err
}

// ParseForSoap reads the stream up to the end of the root part, which becomes SoapBody
func (p *Parser) ParseForSoap(cb chunk.ReadCallback, ctx interface{}, boundary string) error {
	if p.override != "" {
		boundary = p.override
	}
	if boundary == "" {
		return p.fail(ErrNoBoundary)
	}
	p.boundary = boundary
	p.marker = append(append([]byte{}, dashes...), boundary...)
	p.endOfMime = false
	p.soap = nil
	p.parts = nil
	p.root = Header{}

	pool := chunk.NewPool(p.bufferSize, p.maxBuffers, cb, ctx)
	p.scanner = chunk.NewScanner(pool)
	p.scanner.MaxMisses = p.maxMisses

	n, err := pool.Refill()
	if err != nil {
		return p.fail(err)
	}
	if n == 0 {
		return p.fail(errors.Wrap(ErrMalformedStream, "empty stream"))
	}
	// the preamble stays in the pool until the first boundary, so a stream without one
	// runs into the buffer ceiling
	if _, err := p.scanner.Until(p.marker, nil, nil); err != nil {
		return p.fail(err)
	}
	block, err := p.scanner.Until(headersEnd, nil, nil)
	if err != nil {
		return p.fail(errors.Wrap(err, "root part headers"))
	}
	if p.root, err = parseHeader(block); err != nil {
		return p.fail(err)
	}
	soap, err := p.scanner.Until(p.marker, crlf, nil)
	if err != nil {
		return p.fail(errors.Wrap(err, "root part"))
	}
	if err := p.checkEnd(); err != nil {
		return p.fail(err)
	}
	p.soap = soap
	p.log.WithBoundary(boundary).Debugf("root part of %d bytes", len(soap))
	p.publish(ev.SoapParsed, len(soap))
	return nil
}

// checkEnd looks for the "--" that closes the last boundary
func (p *Parser) checkEnd() error {
	next, err := p.scanner.Peek(2)
	if err != nil {
		return err
	}
	if len(next) == 2 && next[0] == '-' && next[1] == '-' {
		p.endOfMime = true
		p.scanner.Skip(2)
		return nil
	}
	// a stream that stops right after a boundary is also done
	if len(next) == 0 {
		p.endOfMime = true
	}
	return nil
}

// ParseForAttachments parses the whole message. The root part is parsed first unless
// ParseForSoap already did it, in which case parsing goes on with the stream given to
// ParseForSoap and cb and ctx are not used. On any failure the result is nil
func (p *Parser) ParseForAttachments(cb chunk.ReadCallback, ctx interface{}, boundary string, userParam interface{}) (map[string]*attachment.DataHandler, error) {
	if p.scanner == nil {
		if err := p.ParseForSoap(cb, ctx, boundary); err != nil {
			return nil, err
		}
	} else if p.override == "" && boundary != "" && boundary != p.boundary {
		return nil, p.fail(errors.Wrapf(ErrMalformedStream, "boundary %q differs from %q of the root part", boundary, p.boundary))
	}
	p.userParam = userParam
	if r, ok := p.caching.(attachment.ParamReceiver); ok && p.attachmentDir == "" {
		r.SetUserParam(userParam)
	}
	parts := make(map[string]*attachment.DataHandler)
	for count := 0; !p.endOfMime; count++ {
		if count >= MaxParts {
			return nil, p.fail(errors.Wrapf(ErrMalformedStream, "more than %d parts", MaxParts))
		}
		key, h, err := p.nextPart(parts)
		if err != nil {
			return nil, p.fail(err)
		}
		parts[key] = h
		p.publish(ev.AttachmentStored, Info(h))
		if err := p.checkEnd(); err != nil {
			return nil, p.fail(err)
		}
	}
	p.parts = parts
	p.scanner = nil
	return parts, nil
}

// nextPart reads the headers and the body of one attachment, from just after its boundary.
// A Content-ID already in seen fails before anything is stored
func (p *Parser) nextPart(seen map[string]*attachment.DataHandler) (string, *attachment.DataHandler, error) {
	block, err := p.scanner.Until(headersEnd, nil, nil)
	if err != nil {
		return "", nil, errors.Wrap(err, "part headers")
	}
	header, err := parseHeader(block)
	if err != nil {
		return "", nil, err
	}
	id := header.ContentID()
	if id == "" {
		return "", nil, errors.Wrap(ErrMalformedStream, "part without a Content-ID")
	}
	contentType := header.ContentType()
	key := attachment.BracketID(id)
	if _, ok := seen[key]; ok {
		return "", nil, errors.Wrapf(ErrMalformedStream, "duplicate part %s", key)
	}
	l := p.log.WithContentID(id)

	var h *attachment.DataHandler
	switch {
	case p.attachmentDir != "":
		name := attachment.FileName(p.attachmentDir, id)
		if err := p.spoolFile(name); err != nil {
			return "", nil, err
		}
		h = attachment.NewFile(name, contentType)
		h.SetCached(true)
		l.Debugf("spooled to %s", name)
	case p.caching != nil:
		err := attachment.CacheTo(p.caching, id, func(cache func([]byte) error) error {
			_, err := p.scanner.Until(p.marker, crlf, cache)
			return err
		})
		if err != nil {
			return "", nil, errors.Wrapf(err, "caching callback %s", p.callbackName)
		}
		var sender attachment.SendingCallback
		if r, ok := p.caching.(attachment.Retriever); ok {
			sender = r.Sender()
		}
		h = attachment.NewCallback(sender, id, contentType)
		h.SetCached(true)
		l.Debugf("cached with %s", p.callbackName)
	default:
		body, err := p.scanner.Until(p.marker, crlf, nil)
		if err != nil {
			return "", nil, errors.Wrap(err, "part body")
		}
		h = attachment.NewBuffer(body, contentType)
		l.Debugf("kept %d bytes in memory", len(body))
	}
	h.SetMimeID(id)
	if enc := header.TransferEncoding(); Encoded(enc) {
		h.SetTransferEncoding(enc)
	}
	return key, h, nil
}

// spoolFile streams the body of the current part into name
func (p *Parser) spoolFile(name string) (err error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(ErrIO, "create %s: %v", name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(ErrIO, "close %s: %v", name, closeErr)
		}
	}()
	_, err = p.scanner.Until(p.marker, crlf, func(b []byte) error {
		if _, err := f.Write(b); err != nil {
			return errors.Wrapf(ErrIO, "write %s: %v", name, err)
		}
		return nil
	})
	return err
}

// Info describes h for events and reports. Size is -1 when only a callback knows it
func Info(h *attachment.DataHandler) ev.AttachmentInfo {
	i := ev.AttachmentInfo{
		ContentID:   h.ContentID(),
		ContentType: h.ContentType(),
		Kind:        h.Kind().String(),
		Cached:      h.Cached(),
		Encoding:    h.TransferEncoding(),
		Size:        -1,
	}
	switch h.Kind() {
	case attachment.KindBuffer:
		i.Size = int64(len(h.Buffer()))
	case attachment.KindFile:
		if fi, err := os.Stat(h.FileName()); err == nil {
			i.Size = fi.Size()
		}
	}
	return i
}
