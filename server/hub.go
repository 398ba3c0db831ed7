package server

import (
	"sync"
	"time"

	"github.com/flashmob/go-mtom/ev"
)

// frame is what goes out over the events websocket
type frame struct {
	T     time.Time   `json:"t"`
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// hub fans the parse events of the bus out to the websocket sessions
type hub struct {
	sync.Mutex
	subs map[string]chan<- *frame
	bus  *ev.EventHandler

	handlers map[ev.Event]interface{}
}

func newHub(bus *ev.EventHandler) *hub {
	h := &hub{
		subs:     make(map[string]chan<- *frame),
		bus:      bus,
		handlers: make(map[ev.Event]interface{}),
	}
	h.handlers[ev.SoapParsed] = func(n int) {
		h.notify(&frame{T: time.Now(), Event: ev.SoapParsed.String(), Data: map[string]int{"length": n}})
	}
	h.handlers[ev.AttachmentStored] = func(i ev.AttachmentInfo) {
		h.notify(&frame{T: time.Now(), Event: ev.AttachmentStored.String(), Data: i})
	}
	h.handlers[ev.ParseFailed] = func(err error) {
		h.notify(&frame{T: time.Now(), Event: ev.ParseFailed.String(), Data: map[string]string{"error": err.Error()}})
	}
	h.handlers[ev.MessageSent] = func(n int64) {
		h.notify(&frame{T: time.Now(), Event: ev.MessageSent.String(), Data: map[string]int64{"bytes": n}})
	}
	return h
}

func (h *hub) listen() error {
	for topic, fn := range h.handlers {
		if err := h.bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *hub) stop() {
	for topic, fn := range h.handlers {
		_ = h.bus.Unsubscribe(topic, fn)
	}
	h.Lock()
	defer h.Unlock()
	for id, c := range h.subs {
		close(c)
		delete(h.subs, id)
	}
}

func (h *hub) subscribe(id string, c chan<- *frame) {
	h.Lock()
	defer h.Unlock()
	h.subs[id] = c
}

func (h *hub) unsubscribe(id string) {
	h.Lock()
	defer h.Unlock()
	if c, ok := h.subs[id]; ok {
		close(c)
		delete(h.subs, id)
	}
}

// slow subscribers miss frames rather than block a parse
func (h *hub) notify(f *frame) {
	h.Lock()
	defer h.Unlock()
	for _, c := range h.subs {
		select {
		case c <- f:
		default:
		}
	}
}
