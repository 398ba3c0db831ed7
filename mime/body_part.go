package mime

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
)

// TextNode is an outbound node carrying an attachment, such as an optimized text node of a SOAP tree
type TextNode interface {
	ContentID() string
	DataHandler() *attachment.DataHandler
}

// BodyPart is one attachment being assembled for the wire
type BodyPart struct {
	header  Header
	handler *attachment.DataHandler
}

func NewBodyPart() *BodyPart {
	return &BodyPart{}
}

// AddHeader sets a header, keeping its position if already present
func (b *BodyPart) AddHeader(name, value string) {
	b.header.Set(name, value)
}

func (b *BodyPart) Header() *Header {
	return &b.header
}

func (b *BodyPart) SetDataHandler(h *attachment.DataHandler) {
	b.handler = h
}

func (b *BodyPart) DataHandler() *attachment.DataHandler {
	return b.handler
}

// CreateFromText builds the body part of node with its Content-ID, Content-Type and
// Content-Transfer-Encoding headers. The encoding is binary unless the handler still holds encoded bytes
func CreateFromText(node TextNode) (*BodyPart, error) {
	h := node.DataHandler()
	if h == nil {
		return nil, errors.New("text node without a data handler")
	}
	id := node.ContentID()
	if id == "" {
		id = h.MimeID()
	}
	if id == "" {
		return nil, errors.New("text node without a content id")
	}
	b := NewBodyPart()
	b.AddHeader(HeaderContentID, attachment.BracketID(id))
	b.AddHeader(HeaderContentType, h.ContentType())
	enc := h.TransferEncoding()
	if enc == "" {
		enc = "binary"
	}
	b.AddHeader(HeaderContentTransferEncoding, enc)
	b.SetDataHandler(h)
	return b, nil
}

// WriteToList appends the header block and then the content of the data handler to list
func (b *BodyPart) WriteToList(list *attachment.PartList) error {
	var buf bytes.Buffer
	b.header.WriteTo(&buf)
	if b.handler != nil {
		buf.WriteString("\r\n")
	}
	list.AddBuffer(buf.Bytes())
	if b.handler == nil {
		return nil
	}
	return b.handler.AddBinaryData(list)
}

// handlerNode is the TextNode of an attachment that is already in a parts map
type handlerNode struct {
	id string
	h  *attachment.DataHandler
}

func (n handlerNode) ContentID() string {
	return n.id
}

func (n handlerNode) DataHandler() *attachment.DataHandler {
	return n.h
}

// NewTextNode returns a TextNode for h under the given Content-ID, in either form
func NewTextNode(contentID string, h *attachment.DataHandler) TextNode {
	return handlerNode{id: attachment.BareID(contentID), h: h}
}
