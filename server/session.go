package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flashmob/go-mtom/log"
)

const (
	maxMessageSize = 1024
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendQueue      = 64
)

type session struct {
	id   string
	ws   *websocket.Conn
	log  log.Logger
	hub  *hub
	send chan *frame
}

func newSession(ws *websocket.Conn, h *hub, l log.Logger) *session {
	s := &session{
		id:   uuid.New().String(),
		ws:   ws,
		log:  l,
		hub:  h,
		send: make(chan *frame, sendQueue),
	}
	h.subscribe(s.id, s.send)
	return s
}

// Receives messages from the websocket connection until it closes. Clients only send pongs and closes
func (s *session) receive() {
	defer s.hub.unsubscribe(s.id)
	defer s.ws.Close()
	s.ws.SetReadLimit(maxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Error("Websocket closed unexpectedly")
			}
			return
		}
	}
}

// Transmits the frames of the hub to the websocket connection
func (s *session) transmit() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.ws.Close()
	for {
		select {
		case f, ok := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.ws.WriteJSON(f); err != nil {
				s.log.WithError(err).Debug("Failed to write next websocket message. Closing connection")
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				s.log.WithError(err).Debug("Failed to write ping. Closing connection")
				return
			}
		}
	}
}
