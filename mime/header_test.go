package mime

import (
	"bytes"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	h, err := parseHeader([]byte("\r\ncontent-id:   <a@b>  \r\nContent-Type: image/png;\r\n name=\"x.png\"\r\nX-Dup: 1\r\nX-Dup: 2"))
	require.NoError(t, err)
	assert.Equal(t, "a@b", h.ContentID())
	assert.Equal(t, HeaderContentID, h.Fields()[0].Name)
	assert.True(t, strings.HasPrefix(h.ContentType(), "image/png;"))
	assert.Contains(t, h.ContentType(), `name="x.png"`)
	assert.Equal(t, 4, h.Len())
	assert.Equal(t, "1", h.Get("x-dup"))

	// trailing whitespace on the boundary line
	h, err = parseHeader([]byte("  \r\nContent-ID: bare-id"))
	require.NoError(t, err)
	assert.Equal(t, "bare-id", h.ContentID())

	h, err = parseHeader(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, "", h.ContentID())

	_, err = parseHeader([]byte("\r\nno colon here"))
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestHeaderOrder(t *testing.T) {
	var h Header
	h.Set("Content-Type", "a")
	h.Set("Content-Id", "<x>")
	h.Add("X-A", "1")
	h.Set("CONTENT-TYPE", "b")
	assert.True(t, h.Has("content-id"))
	var buf bytes.Buffer
	h.WriteTo(&buf)
	assert.Equal(t, "Content-Type: b\r\nContent-ID: <x>\r\nX-A: 1\r\n", buf.String())

	h.Del("content-type")
	assert.False(t, h.Has(HeaderContentType))
	assert.Equal(t, 2, h.Len())
}

func TestDecodeBody(t *testing.T) {
	r := DecodeBody("BASE64", strings.NewReader("REVB\r\nREJF\r\nRUY=\r\n"))
	b, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF", string(b))

	r = DecodeBody("quoted-printable", strings.NewReader("caf=C3=A9 au lait"))
	b, err = ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "café au lait", string(b))

	r = DecodeBody("binary", strings.NewReader("\x00\x01"))
	b, err = ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, b)
}

func TestCharset(t *testing.T) {
	assert.Equal(t, "utf-8", Charset(""))
	assert.Equal(t, "utf-8", Charset("text/xml"))
	assert.Equal(t, "utf-8", Charset(`application/xop+xml;charset=UTF-8;type="text/xml";`))
	assert.Equal(t, "iso-8859-1", Charset(`text/xml; charset="ISO-8859-1"`))
	assert.Equal(t, "utf-8", Charset("not a media type;;;"))

	s, err := ToUTF8([]byte("caf\xe9"), "text/xml; charset=iso-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", s)

	_, err = ToUTF8([]byte("x"), "text/xml; charset=klingon")
	assert.Error(t, err)
}
