package ev

import (
	evbus "github.com/asaskevich/EventBus"
)

type Event int

const (
	// when a new config was loaded
	ConfigNewConfig Event = iota
	// when log_file changed
	ConfigLogFile
	// when it's time to reload the main log file
	ConfigLogReopen
	// when log level changed
	ConfigLogLevel
	// when the listen interface changed
	ConfigListenInterface
	// when the caching or sending callback, or its config changed
	ConfigCallback
	// when buffer_size, max_buffers or max_misses changed
	ConfigParserLimits
	// when attachment_dir changed
	ConfigAttachmentDir

	// the root SOAP part was extracted
	SoapParsed
	// an attachment was stored in the parts map
	AttachmentStored
	// a parse was aborted
	ParseFailed
	// a message was written out by the sender
	MessageSent
)

var eventList = [...]string{
	"config_change:new_config",
	"config_change:log_file",
	"config_change:reopen_log_file",
	"config_change:log_level",
	"config_change:listen_interface",
	"config_change:callback",
	"config_change:parser_limits",
	"config_change:attachment_dir",
	"mime:soap_parsed",
	"mime:attachment_stored",
	"mime:parse_failed",
	"transport:message_sent",
}

func (e Event) String() string {
	return eventList[e]
}

// AttachmentInfo is published with AttachmentStored
type AttachmentInfo struct {
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
	Kind        string `json:"kind"`
	Cached      bool   `json:"cached"`
	Encoding    string `json:"transfer_encoding,omitempty"`
	Size        int64  `json:"size"`
}

type EventHandler struct {
	evbus.Bus
}

func (h *EventHandler) Subscribe(topic Event, fn interface{}) error {
	if h.Bus == nil {
		h.Bus = evbus.New()
	}
	return h.Bus.Subscribe(topic.String(), fn)
}

func (h *EventHandler) Publish(topic Event, args ...interface{}) {
	if h.Bus == nil {
		return
	}
	h.Bus.Publish(topic.String(), args...)
}

func (h *EventHandler) Unsubscribe(topic Event, handler interface{}) error {
	if h.Bus == nil {
		return nil
	}
	return h.Bus.Unsubscribe(topic.String(), handler)
}
