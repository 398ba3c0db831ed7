package main

import (
	"bufio"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashmob/go-mtom/attachment"
	goredis_driver "github.com/flashmob/go-mtom/attachment/storage/goredis"
	redigo_driver "github.com/flashmob/go-mtom/attachment/storage/redigo"
	"github.com/flashmob/go-mtom/chunk"
	"github.com/flashmob/go-mtom/internal/tests"
	"github.com/flashmob/go-mtom/xop"
)

var configYaml = `
log_file: "off"
log_level: info
listen_interface: 127.0.0.1:0
pid_file: ./pidfile.pid
redis_driver: goredis
`

func TestReadConfig(t *testing.T) {
	dir := tests.TempDir(t)
	path := tests.WriteFile(t, dir, "mtomd.conf.yaml", []byte(configYaml))

	ac, err := readConfig(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "./pidfile.pid", ac.PidFile)
	assert.Equal(t, "goredis", ac.RedisDriver)

	ac, err = readConfig(path, "", "/tmp/other.pid")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.pid", ac.PidFile)

	_, err = readConfig(filepath.Join(dir, "missing.yaml"), "", "")
	assert.Error(t, err)
}

func TestSetRedisDriver(t *testing.T) {
	defer setRedisDriver("")
	setRedisDriver("goredis")
	assert.Equal(t, reflect.ValueOf(goredis_driver.Dial).Pointer(), reflect.ValueOf(attachment.RedisDialer).Pointer())
	setRedisDriver("redigo")
	assert.Equal(t, reflect.ValueOf(redigo_driver.Dial).Pointer(), reflect.ValueOf(attachment.RedisDialer).Pointer())
}

func TestPartFlags(t *testing.T) {
	var p partFlags
	require.NoError(t, p.Set("<img@example.com>=/tmp/a.png,image/png"))
	require.NoError(t, p.Set("doc@example.com=/tmp/b.bin"))
	assert.Error(t, p.Set("=/tmp/c"))
	assert.Error(t, p.Set("noequals"))
	assert.Error(t, p.Set("id="))
	require.Len(t, p, 2)
	assert.Equal(t, partSpec{id: "img@example.com", source: "/tmp/a.png", contentType: "image/png"}, p[0])
	assert.Equal(t, partSpec{id: "doc@example.com", source: "/tmp/b.bin"}, p[1])
	assert.Equal(t, "img@example.com=/tmp/a.png doc@example.com=/tmp/b.bin", p.String())
}

func TestSniffBoundary(t *testing.T) {
	b, err := sniffBoundary(bufio.NewReader(strings.NewReader("--MIMEBoundary_abc\r\nContent-Type: x\r\n")))
	require.NoError(t, err)
	assert.Equal(t, "MIMEBoundary_abc", b)

	_, err = sniffBoundary(bufio.NewReader(strings.NewReader("preamble\r\n--B\r\n")))
	assert.ErrorIs(t, err, chunk.ErrMalformedStream)

	_, err = sniffBoundary(bufio.NewReader(strings.NewReader("--\r\n")))
	assert.ErrorIs(t, err, chunk.ErrMalformedStream)
}

func TestPackUnpack(t *testing.T) {
	dir := tests.TempDir(t)
	soap := `<Envelope><Body><img>` + xop.IncludeString("img@example.com") + `</img></Body></Envelope>`
	soapPath := tests.WriteFile(t, dir, "in.xml", []byte(soap))
	data := strings.Repeat("0123456789", 500)
	imgPath := tests.WriteFile(t, dir, "img.bin", []byte(data))

	packSoap = soapPath
	packOut = filepath.Join(dir, "message.mime")
	packFiles = partFlags{{id: "img@example.com", source: imgPath, contentType: "image/png"}}
	packChunkSize = 100
	require.NoError(t, pack(packCmd, nil))

	unpackIn = packOut
	unpackDir = filepath.Join(dir, "out")
	unpackBufferSize = 256
	require.NoError(t, unpack(unpackCmd, nil))

	got, err := ioutil.ReadFile(filepath.Join(unpackDir, "root.xml"))
	require.NoError(t, err)
	assert.Equal(t, soap, string(got))
	got, err = ioutil.ReadFile(attachment.FileName(unpackDir, "img@example.com"))
	require.NoError(t, err)
	assert.Equal(t, data, string(got))
}

func TestUnpackDecodesParts(t *testing.T) {
	dir := tests.TempDir(t)
	msg := "--B\r\nContent-ID: <r>\r\n\r\n<r/>\r\n" +
		"--B\r\nContent-ID: <b64@example.com>\r\nContent-Transfer-Encoding: base64\r\n\r\nREVB\r\nREJFRUY=\r\n--B--\r\n"
	unpackIn = tests.WriteFile(t, dir, "in.mime", []byte(msg))
	unpackDir = filepath.Join(dir, "out")
	unpackBoundary = "B"
	unpackContentType = ""
	unpackBufferSize = 16
	defer func() {
		unpackBoundary = ""
	}()
	require.NoError(t, unpack(unpackCmd, nil))

	got, err := ioutil.ReadFile(attachment.FileName(unpackDir, "b64@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF", string(got))
	_, err = os.Stat(attachment.FileName(unpackDir, "b64@example.com") + ".decoded")
	assert.True(t, os.IsNotExist(err))
}
