// Package xop finds the xop:Include references of an MTOM root part, so that they can be
// resolved against the parts map of the mime parser.
package xop

import (
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"github.com/flashmob/go-mtom/attachment"
)

const Namespace = "http://www.w3.org/2004/08/xop/include"

var ErrMalformedXML = errors.New("malformed soap envelope")

// References returns the Content-IDs referenced by the xop:Include elements of soap, in
// document order, in the <id> form used as parts map keys
func References(soap []byte) ([]string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(soap); err != nil {
		return nil, errors.Wrapf(ErrMalformedXML, "%v", err)
	}
	var refs []string
	for _, e := range doc.FindElements("//*[local-name()='Include']") {
		if e.NamespaceURI() != Namespace {
			continue
		}
		href := e.SelectAttrValue("href", "")
		if !strings.HasPrefix(strings.ToLower(href), "cid:") {
			return nil, errors.Wrapf(ErrMalformedXML, "xop:Include href %q is not a cid url", href)
		}
		id, err := url.PathUnescape(href[4:])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedXML, "xop:Include href %q: %v", href, err)
		}
		refs = append(refs, attachment.BracketID(id))
	}
	return refs, nil
}

// Unresolved returns the references of soap that have no entry in parts
func Unresolved(soap []byte, parts map[string]*attachment.DataHandler) ([]string, error) {
	refs, err := References(soap)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, ref := range refs {
		if _, ok := parts[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// Include returns an xop:Include element referencing the Content-ID id
func Include(id string) *etree.Element {
	e := etree.NewElement("xop:Include")
	e.CreateAttr("xmlns:xop", Namespace)
	e.CreateAttr("href", "cid:"+url.PathEscape(attachment.BareID(id)))
	return e
}

// IncludeString is Include serialized
func IncludeString(id string) string {
	doc := etree.NewDocument()
	doc.SetRoot(Include(id))
	s, _ := doc.WriteToString()
	return s
}
