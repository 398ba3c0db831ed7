package mime

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
)

const (
	MultipartRelated = "multipart/related"
	XopXML           = "application/xop+xml"
	DefaultCharset   = "UTF-8"
	SoapContentType  = "text/xml"
)

// NewBoundary returns a fresh mime boundary
func NewBoundary() string {
	return "MIMEBoundary_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewContentID returns the n-th Content-ID of a message, bare, in the n.<uuid>@domain form
func NewContentID(n int, domain string) string {
	if domain == "" {
		domain = "apache.org"
	}
	return strconv.Itoa(n) + "." + uuid.New().String() + "@" + domain
}

// ContentTypeForMime is the Content-Type of a whole MTOM message
func ContentTypeForMime(boundary, rootID, charset, soapContentType string) string {
	var sb strings.Builder
	sb.WriteString(MultipartRelated)
	sb.WriteString("; ")
	if boundary != "" {
		sb.WriteString("boundary=")
		sb.WriteString(boundary)
		sb.WriteString("; ")
	}
	sb.WriteString(`type="` + XopXML + `"`)
	if rootID != "" {
		sb.WriteString(`; start="` + attachment.BracketID(rootID) + `"`)
	}
	if soapContentType != "" {
		sb.WriteString(`; start-info="` + soapContentType + `"`)
	}
	if charset != "" {
		sb.WriteString(`; charset="` + charset + `"`)
	}
	return sb.String()
}

// writeBodyPart appends the boundary line, the part and the CRLF that ends it
func writeBodyPart(list *attachment.PartList, b *BodyPart, boundary string) error {
	list.AddString("--" + boundary + "\r\n")
	if err := b.WriteToList(list); err != nil {
		return err
	}
	list.AddString("\r\n")
	return nil
}

// CreatePartList lays out a whole multipart/related message: the root part holding soap
// followed by one part per node, each preceded by its boundary, then the closing boundary.
// File and callback content is only referenced, the transport reads it when writing the list
func CreatePartList(soap []byte, nodes []TextNode, boundary, rootID, charset, soapContentType string) (*attachment.PartList, error) {
	if boundary == "" {
		return nil, ErrNoBoundary
	}
	if charset == "" {
		charset = DefaultCharset
	}
	if soapContentType == "" {
		soapContentType = SoapContentType
	}
	list := attachment.NewPartList()

	root := NewBodyPart()
	root.AddHeader(HeaderContentType, XopXML+";charset="+charset+`;type="`+soapContentType+`";`)
	root.AddHeader(HeaderContentTransferEncoding, "binary")
	root.AddHeader(HeaderContentID, attachment.BracketID(rootID))
	if err := writeBodyPart(list, root, boundary); err != nil {
		return nil, err
	}
	body := make([]byte, 0, len(soap)+2)
	body = append(append(body, soap...), crlf...)
	list.AddBuffer(body)

	for _, node := range nodes {
		b, err := CreateFromText(node)
		if err != nil {
			return nil, err
		}
		if err := writeBodyPart(list, b, boundary); err != nil {
			return nil, errors.Wrapf(err, "attachment %s", node.ContentID())
		}
	}
	list.AddString("--" + boundary + "--\r\n")
	return list, nil
}

// NodesFromParts returns a TextNode for every handler in parts, ordered by key
func NodesFromParts(parts map[string]*attachment.DataHandler) []TextNode {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	nodes := make([]TextNode, 0, len(keys))
	for _, k := range keys {
		nodes = append(nodes, NewTextNode(k, parts[k]))
	}
	return nodes
}
