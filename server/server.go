// Package server is the HTTP front of the mime parser. It accepts MTOM messages, reports
// what they carried, and can stream them back out.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/chunk"
	"github.com/flashmob/go-mtom/config"
	"github.com/flashmob/go-mtom/ev"
	"github.com/flashmob/go-mtom/log"
	"github.com/flashmob/go-mtom/mime"
	"github.com/flashmob/go-mtom/transport"
	"github.com/flashmob/go-mtom/xop"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server holds the http listener and the config every request is parsed with
type Server struct {
	sync.RWMutex
	config *config.AppConfig
	log    log.Logger
	bus    *ev.EventHandler
	hub    *hub

	httpServer *http.Server
	listener   net.Listener
}

// Report is the reply of POST /mtom
type Report struct {
	Boundary   string              `json:"boundary"`
	SoapLength int                 `json:"soap_length"`
	Soap       string              `json:"soap"`
	RootID     string              `json:"root_id"`
	Parts      []ev.AttachmentInfo `json:"parts"`
	Unresolved []string            `json:"unresolved,omitempty"`
}

type errorReply struct {
	Error string `json:"error"`
}

func New(c *config.AppConfig, l log.Logger, bus *ev.EventHandler) *Server {
	if bus == nil {
		bus = &ev.EventHandler{}
	}
	s := &Server{
		config: c,
		log:    l,
		bus:    bus,
		hub:    newHub(bus),
	}
	if err := s.hub.listen(); err != nil {
		l.WithError(err).Error("could not subscribe to the event bus")
	}
	return s
}

// SetConfig swaps the config used by the next requests
func (s *Server) SetConfig(c *config.AppConfig) {
	s.Lock()
	defer s.Unlock()
	s.config = c
}

func (s *Server) Config() *config.AppConfig {
	s.RLock()
	defer s.RUnlock()
	return s.config
}

// Router returns the handler with all the routes
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/mtom", s.parseHandler).Methods(http.MethodPost)
	r.HandleFunc("/echo", s.echoHandler).Methods(http.MethodPost)
	r.HandleFunc("/events", s.eventsHandler).Methods(http.MethodGet)
	return r
}

// Start listens on the configured interface and serves in the background
func (s *Server) Start() error {
	iface := s.Config().ListenInterface
	l, err := net.Listen("tcp", iface)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", iface)
	}
	s.listener = l
	s.httpServer = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 30 * time.Second}
	go func() {
		if err := s.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server stopped")
		}
	}()
	s.log.Infof("Listening on %s", l.Addr())
	return nil
}

// Addr is the address the server listens on, once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for the running ones until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) reply(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("could not write reply")
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, chunk.ErrMalformedStream), errors.Is(err, mime.ErrNoBoundary):
		return http.StatusBadRequest
	case errors.Is(err, chunk.ErrResourceExhausted), errors.Is(err, chunk.ErrNoMemory):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// request is one parsed message. done frees the parser and removes what was spooled for it
type request struct {
	parser *mime.Parser
	parts  map[string]*attachment.DataHandler
	dir    string
	log    log.Logger
}

func (q *request) done() {
	if err := q.parser.Free(); err != nil {
		q.log.WithError(err).Warn("could not free the caching callback")
	}
	if q.dir == "" {
		return
	}
	if err := os.RemoveAll(q.dir); err != nil {
		q.log.WithError(err).Warnf("could not remove %s", q.dir)
	}
}

// parse runs the mime parser over the request body. Every request spools to its own
// directory under the attachment dir, so equal Content-IDs of concurrent requests don't collide
func (s *Server) parse(r *http.Request) (*request, error) {
	boundary, err := transport.BoundaryFromContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	c := s.Config().ParserConfig()
	p, err := mime.NewParserFromConfig(c)
	if err != nil {
		return nil, err
	}
	q := &request{parser: p, log: s.log}
	if c.AttachmentDir != "" {
		if q.dir, err = os.MkdirTemp(c.AttachmentDir, "req-"); err != nil {
			q.done()
			return nil, errors.Wrapf(chunk.ErrIO, "request dir: %v", err)
		}
		p.SetAttachmentDir(q.dir)
	}
	p.SetLogger(s.log)
	p.SetEventHandler(s.bus)
	cb, ctx := transport.NewReaderCallback(r.Body)
	if q.parts, err = p.ParseForAttachments(cb, ctx, boundary, r.RemoteAddr); err != nil {
		q.done()
		return nil, err
	}
	return q, nil
}

func (s *Server) parseHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.parse(r)
	if err != nil {
		s.reply(w, statusOf(err), errorReply{Error: err.Error()})
		return
	}
	defer q.done()
	p, parts := q.parser, q.parts
	report := Report{
		Boundary:   p.Boundary(),
		SoapLength: p.SoapBodyLen(),
		RootID:     p.RootHeader().ContentID(),
		Parts:      make([]ev.AttachmentInfo, 0, len(parts)),
	}
	if report.Soap, err = p.SoapBodyUTF8(); err != nil {
		report.Soap = string(p.SoapBody())
	}
	for _, node := range mime.NodesFromParts(parts) {
		report.Parts = append(report.Parts, mime.Info(node.DataHandler()))
	}
	if missing, err := xop.Unresolved(p.SoapBody(), parts); err == nil {
		report.Unresolved = missing
	} else {
		s.log.WithError(err).Debug("root part is not xml")
	}
	s.reply(w, http.StatusOK, report)
}

// echoHandler parses the message and sends it back under a new boundary
func (s *Server) echoHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.parse(r)
	if err != nil {
		s.reply(w, statusOf(err), errorReply{Error: err.Error()})
		return
	}
	defer q.done()
	p, parts := q.parser, q.parts
	boundary := mime.NewBoundary()
	rootID := p.RootHeader().ContentID()
	if rootID == "" {
		rootID = mime.NewContentID(0, "")
	}
	charset := mime.Charset(p.RootHeader().ContentType())
	list, err := mime.CreatePartList(p.SoapBody(), mime.NodesFromParts(parts), boundary, rootID, charset, mime.SoapContentType)
	if err != nil {
		s.reply(w, http.StatusInternalServerError, errorReply{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", mime.ContentTypeForMime(boundary, rootID, charset, mime.SoapContentType))
	w.WriteHeader(http.StatusOK)
	sender := transport.NewSender()
	sender.ChunkSize = s.Config().ChunkSize
	sender.Log = s.log
	n, err := sender.Send(w, list)
	if err != nil {
		s.log.WithError(err).Error("echo failed after the headers were sent")
		return
	}
	s.bus.Publish(ev.MessageSent, n)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	sess := newSession(conn, s.hub, s.log)
	go sess.receive()
	go sess.transmit()
}
