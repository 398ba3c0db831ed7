package mime

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/transport"
)

func TestCreateFromText(t *testing.T) {
	h := attachment.NewBuffer([]byte("DEADBEEF"), "image/png")
	b, err := CreateFromText(NewTextNode("<att1>", h))
	require.NoError(t, err)
	fields := b.Header().Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, Field{Name: HeaderContentID, Value: "<att1>"}, fields[0])
	assert.Equal(t, Field{Name: HeaderContentType, Value: "image/png"}, fields[1])
	assert.Equal(t, Field{Name: HeaderContentTransferEncoding, Value: "binary"}, fields[2])

	list := attachment.NewPartList()
	require.NoError(t, b.WriteToList(list))
	require.Equal(t, 2, list.Len())
	assert.Equal(t, "Content-ID: <att1>\r\nContent-Type: image/png\r\nContent-Transfer-Encoding: binary\r\n\r\n",
		string(list.Parts()[0].Data))
	assert.Equal(t, "DEADBEEF", string(list.Parts()[1].Data))

	// the handler's mime id is used when the node has none
	h.SetMimeID("fallback@example.com")
	b, err = CreateFromText(NewTextNode("", h))
	require.NoError(t, err)
	assert.Equal(t, "<fallback@example.com>", b.Header().Get(HeaderContentID))

	_, err = CreateFromText(NewTextNode("x", nil))
	assert.Error(t, err)
}

func TestBodyPartWithoutHandler(t *testing.T) {
	b := NewBodyPart()
	b.AddHeader("content-type", "text/plain")
	b.AddHeader("X-Extra", "1")
	b.AddHeader("Content-Type", "text/xml")
	list := attachment.NewPartList()
	require.NoError(t, b.WriteToList(list))
	require.Equal(t, 1, list.Len())
	assert.Equal(t, "Content-Type: text/xml\r\nX-Extra: 1\r\n", string(list.Parts()[0].Data))
}

func TestContentTypeForMime(t *testing.T) {
	ct := ContentTypeForMime("MIMEBoundary_1", "0.root@apache.org", "UTF-8", "text/xml")
	assert.Equal(t, `multipart/related; boundary=MIMEBoundary_1; type="application/xop+xml"; `+
		`start="<0.root@apache.org>"; start-info="text/xml"; charset="UTF-8"`, ct)
	b, err := transport.BoundaryFromContentType(ct)
	require.NoError(t, err)
	assert.Equal(t, "MIMEBoundary_1", b)
}

func TestNewIDs(t *testing.T) {
	b1, b2 := NewBoundary(), NewBoundary()
	assert.NotEqual(t, b1, b2)
	assert.True(t, strings.HasPrefix(b1, "MIMEBoundary_"))
	assert.NotContains(t, b1, "-")

	id := NewContentID(1, "example.com")
	assert.True(t, strings.HasPrefix(id, "1."))
	assert.True(t, strings.HasSuffix(id, "@example.com"))
	assert.True(t, strings.HasSuffix(NewContentID(0, ""), "@apache.org"))
}

func send(t *testing.T, list *attachment.PartList) []byte {
	var buf bytes.Buffer
	_, err := transport.NewSender().Send(&buf, list)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestCreatePartListLayout(t *testing.T) {
	h := attachment.NewBuffer([]byte("DEADBEEF"), "")
	list, err := CreatePartList([]byte("<a/>"), []TextNode{NewTextNode("att1", h)}, "XYZ", "root", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(len(send(t, list))), list.Size())

	expected := "--XYZ\r\n" +
		"Content-Type: application/xop+xml;charset=UTF-8;type=\"text/xml\";\r\n" +
		"Content-Transfer-Encoding: binary\r\n" +
		"Content-ID: <root>\r\n" +
		"\r\n" +
		"<a/>\r\n" +
		"--XYZ\r\n" +
		"Content-ID: <att1>\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Transfer-Encoding: binary\r\n" +
		"\r\n" +
		"DEADBEEF\r\n" +
		"--XYZ--\r\n"
	assert.Equal(t, expected, string(send(t, list)))

	_, err = CreatePartList(nil, nil, "", "root", "", "")
	assert.ErrorIs(t, err, ErrNoBoundary)
}

func TestRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "mtom")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	binary := make([]byte, 3000)
	for i := range binary {
		binary[i] = byte(i * 7)
	}
	// a body that looks almost like the boundary
	tricky := []byte("\r\n--MIMEBoundar\r\n--")
	fileName := filepath.Join(dir, "source.bin")
	require.NoError(t, ioutil.WriteFile(fileName, binary, 0644))

	buf := attachment.NewBuffer(nil, "application/octet-stream")
	buf.SetBinaryData(tricky)
	nodes := []TextNode{
		NewTextNode("1.a@example.com", attachment.NewBuffer(binary, "image/png")),
		NewTextNode("2.b@example.com", attachment.NewFile(fileName, "")),
		NewTextNode("3.c@example.com", buf),
	}
	boundary := "MIMEBoundary_" + "x1"
	list, err := CreatePartList([]byte("<env/>"), nodes, boundary, "0.root@example.com", "", "")
	require.NoError(t, err)
	wire := send(t, list)

	for _, size := range []int{5, 64, 1024} {
		p := NewParser()
		p.SetBufferSize(size)
		p.SetMaxMisses(-1)
		parts, err := p.ParseForAttachments(feed(string(wire)).read, nil, boundary, nil)
		require.NoError(t, err, "buffer size %d", size)
		assert.Equal(t, "<env/>", string(p.SoapBody()))
		require.Len(t, parts, 3)

		got, err := parts["<1.a@example.com>"].ReadFrom()
		require.NoError(t, err)
		assert.Equal(t, binary, got)
		assert.Equal(t, "image/png", parts["<1.a@example.com>"].ContentType())
		got, err = parts["<2.b@example.com>"].ReadFrom()
		require.NoError(t, err)
		assert.Equal(t, binary, got)
		got, err = parts["<3.c@example.com>"].ReadFrom()
		require.NoError(t, err)
		assert.Equal(t, tricky, got)

		// and back out again
		again, err := CreatePartList(p.SoapBody(), NodesFromParts(parts), boundary, "0.root@example.com", "", "")
		require.NoError(t, err)
		assert.Len(t, send(t, again), len(wire))
	}
}
