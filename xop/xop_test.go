package xop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashmob/go-mtom/attachment"
)

const envelope = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
<soapenv:Body>
<ns1:mtomSample xmlns:ns1="http://ws.apache.org/axis2/c/samples/mtom">
<ns1:fileName>test.jpg</ns1:fileName>
<ns1:image><xop:Include xmlns:xop="http://www.w3.org/2004/08/xop/include" href="cid:1.dd5183d4@apache.org"/></ns1:image>
<ns1:other><Include href="cid:not-xop"/></ns1:other>
<ns1:doc><x:Include xmlns:x="http://www.w3.org/2004/08/xop/include" href="cid:2.a%40b"/></ns1:doc>
</ns1:mtomSample>
</soapenv:Body>
</soapenv:Envelope>`

func TestReferences(t *testing.T) {
	refs, err := References([]byte(envelope))
	require.NoError(t, err)
	assert.Equal(t, []string{"<1.dd5183d4@apache.org>", "<2.a@b>"}, refs)

	_, err = References([]byte("<a><b></a>"))
	assert.ErrorIs(t, err, ErrMalformedXML)

	_, err = References([]byte(`<xop:Include xmlns:xop="http://www.w3.org/2004/08/xop/include" href="http://x"/>`))
	assert.ErrorIs(t, err, ErrMalformedXML)
}

func TestUnresolved(t *testing.T) {
	parts := map[string]*attachment.DataHandler{
		"<1.dd5183d4@apache.org>": attachment.NewBuffer([]byte("x"), ""),
	}
	missing, err := Unresolved([]byte(envelope), parts)
	require.NoError(t, err)
	assert.Equal(t, []string{"<2.a@b>"}, missing)
}

func TestInclude(t *testing.T) {
	s := IncludeString("<3.x@apache.org>")
	assert.Equal(t, `<xop:Include xmlns:xop="http://www.w3.org/2004/08/xop/include" href="cid:3.x@apache.org"/>`, s)
	refs, err := References([]byte(s))
	require.NoError(t, err)
	assert.Equal(t, []string{"<3.x@apache.org>"}, refs)
}
