package attachment

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSender hands out the chunks it was given and records its lifecycle
type sliceSender struct {
	chunks  [][]byte
	failAt  int
	inits   int
	closes  int
	lastArg interface{}
}

type sliceHandle struct {
	next int
}

func (s *sliceSender) InitHandler(userParam interface{}) (Handle, error) {
	s.inits++
	s.lastArg = userParam
	return &sliceHandle{}, nil
}

func (s *sliceSender) LoadData(h Handle) ([]byte, error) {
	sh := h.(*sliceHandle)
	if s.failAt > 0 && sh.next == s.failAt {
		return nil, assert.AnError
	}
	if sh.next >= len(s.chunks) {
		return nil, nil
	}
	b := s.chunks[sh.next]
	sh.next++
	return b, nil
}

func (s *sliceSender) CloseHandler(h Handle) error {
	s.closes++
	return nil
}

func (s *sliceSender) Free() error {
	return nil
}

// assertOnePayload checks that only the payload matching the kind is set
func assertOnePayload(t *testing.T, h *DataHandler) {
	t.Helper()
	set := 0
	if h.Buffer() != nil {
		set++
		assert.Equal(t, KindBuffer, h.Kind())
	}
	if h.FileName() != "" {
		set++
		assert.Equal(t, KindFile, h.Kind())
	}
	if h.Sender() != nil || h.UserParam() != nil {
		set++
		assert.Equal(t, KindCallback, h.Kind())
	}
	assert.Equal(t, 1, set, "kind %s", h.Kind())
}

func TestKindConsistency(t *testing.T) {
	sender := &sliceSender{}
	h := NewBuffer([]byte("abc"), "")
	assertOnePayload(t, h)

	h.SetFileName("/tmp/x")
	assertOnePayload(t, h)
	assert.Nil(t, h.Buffer())

	h.SetCallback(sender, "param")
	assertOnePayload(t, h)
	assert.Equal(t, "", h.FileName())

	h.SetBinaryData([]byte("def"))
	assertOnePayload(t, h)
	assert.Nil(t, h.Sender())
	assert.Nil(t, h.UserParam())

	h.SetCallback(sender, "param")
	h.SetFileName("/tmp/y")
	assertOnePayload(t, h)
}

func TestNewDefaults(t *testing.T) {
	h := New("", "")
	assert.Equal(t, KindBuffer, h.Kind())
	assertOnePayload(t, h)
	assert.NotNil(t, h.Buffer())
	assert.Len(t, h.Buffer(), 0)
	assertOnePayload(t, NewBuffer(nil, ""))
	assert.Equal(t, DefaultContentType, h.ContentType())
	assert.False(t, h.Cached())

	h = New("/var/spool/mtom/x", "image/png")
	assert.Equal(t, KindFile, h.Kind())
	assert.Equal(t, "image/png", h.ContentType())
}

func TestMimeID(t *testing.T) {
	h := NewBuffer(nil, "")
	assert.Equal(t, "", h.ContentID())
	h.SetMimeID("<1.abc@example.com>")
	assert.Equal(t, "1.abc@example.com", h.MimeID())
	assert.Equal(t, "<1.abc@example.com>", h.ContentID())
	h.SetMimeID("2.def@example.com")
	assert.Equal(t, "<2.def@example.com>", h.ContentID())
	assert.Equal(t, "x", BareID(" < x > "))
	assert.Equal(t, "<x>", BracketID("<x>"))
}

func TestReadFrom(t *testing.T) {
	h := NewBuffer([]byte("DEADBEEF"), "")
	b, err := h.ReadFrom()
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF", string(b))

	dir, err := ioutil.TempDir("", "mtom-handler")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	name := filepath.Join(dir, "att")
	require.NoError(t, ioutil.WriteFile(name, []byte("from a file"), 0644))
	b, err = NewFile(name, "").ReadFrom()
	require.NoError(t, err)
	assert.Equal(t, "from a file", string(b))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, ioutil.WriteFile(empty, nil, 0644))
	b, err = NewFile(empty, "").ReadFrom()
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = NewFile(filepath.Join(dir, "missing"), "").ReadFrom()
	assert.ErrorIs(t, err, ErrIO)

	sender := &sliceSender{chunks: [][]byte{[]byte("DEAD"), []byte("BEEF")}}
	b, err = NewCallback(sender, "k", "").ReadFrom()
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF", string(b))
	assert.Equal(t, 1, sender.inits)
	assert.Equal(t, 1, sender.closes)
	assert.Equal(t, "k", sender.lastArg)
}

func TestReadFromCallbackErrorCloses(t *testing.T) {
	sender := &sliceSender{chunks: [][]byte{[]byte("a"), []byte("b")}, failAt: 1}
	_, err := NewCallback(sender, nil, "").ReadFrom()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 1, sender.closes)
}

func TestWriteTo(t *testing.T) {
	dir, err := ioutil.TempDir("", "mtom-handler")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out")
	require.NoError(t, NewBuffer([]byte("buffered"), "").WriteTo(out))
	b, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "buffered", string(b))

	sender := &sliceSender{chunks: [][]byte{[]byte("call"), []byte("back")}}
	require.NoError(t, NewCallback(sender, nil, "").WriteTo(out))
	b, err = ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "callback", string(b))
	assert.Equal(t, 1, sender.closes)

	// copying a file onto itself leaves it untouched
	f := NewFile(out, "")
	require.NoError(t, f.WriteTo(out))
	b, err = ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "callback", string(b))

	copied := filepath.Join(dir, "copy")
	require.NoError(t, f.WriteTo(copied))
	b, err = ioutil.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "callback", string(b))

	err = NewBuffer([]byte("x"), "").WriteTo(filepath.Join(dir, "no", "such", "dir"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestAddBinaryData(t *testing.T) {
	dir, err := ioutil.TempDir("", "mtom-handler")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	list := NewPartList()
	require.NoError(t, NewBuffer([]byte("abc"), "").AddBinaryData(list))

	name := filepath.Join(dir, "att")
	require.NoError(t, ioutil.WriteFile(name, []byte("12345"), 0644))
	require.NoError(t, NewFile(name, "").AddBinaryData(list))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, ioutil.WriteFile(empty, nil, 0644))
	require.NoError(t, NewFile(empty, "").AddBinaryData(list))

	sender := &sliceSender{}
	require.NoError(t, NewCallback(sender, "param", "").AddBinaryData(list))
	// registering the callback doesn't read from it
	assert.Equal(t, 0, sender.inits)

	parts := list.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, PartBuffer, parts[0].Type)
	assert.Equal(t, "abc", string(parts[0].Data))
	assert.Equal(t, PartFile, parts[1].Type)
	assert.Equal(t, name, parts[1].FileName)
	assert.Equal(t, int64(5), parts[1].Size)
	assert.Equal(t, PartCallback, parts[2].Type)
	assert.Equal(t, "param", parts[2].UserParam)
	assert.Equal(t, int64(-1), list.Size())

	err = NewFile(filepath.Join(dir, "missing"), "").AddBinaryData(NewPartList())
	assert.ErrorIs(t, err, ErrIO)
	err = NewCallback(nil, "p", "").AddBinaryData(NewPartList())
	assert.ErrorIs(t, err, ErrIO)
}

func TestOpenCallbackReader(t *testing.T) {
	sender := &sliceSender{chunks: [][]byte{[]byte("ab"), []byte("cde")}}
	r, err := NewCallback(sender, nil, "").Open()
	require.NoError(t, err)
	b, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(b))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, sender.closes)
}
