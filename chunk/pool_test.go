package chunk

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRefillTopsUpTail(t *testing.T) {
	f := &feeder{data: []byte("abcdefghij"), sizes: []int{3, 3, 3}}
	p := NewPool(8, 2, f.read, nil)
	// the third read only gets what is left of the first buffer, the fourth needs a new one
	for _, want := range []int{3, 3, 2, 2} {
		n, err := p.Refill()
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, 2, p.Retained())
	assert.Equal(t, int64(10), p.End())
	assert.Equal(t, byte('i'), p.Byte(8))

	b, err := p.Bytes(2, 9)
	require.NoError(t, err)
	assert.Equal(t, "cdefghi", string(b))

	p.Release(8)
	assert.Equal(t, 1, p.Retained())
	b, err = p.Bytes(8, 9)
	require.NoError(t, err)
	assert.Equal(t, "i", string(b))

	// can't reach back into a released buffer
	_, err = p.Bytes(2, 9)
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestPoolEndOfStream(t *testing.T) {
	f := &feeder{data: []byte("ab")}
	p := NewPool(4, 1, f.read, nil)
	n, err := p.Refill()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = p.Refill()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, p.EOF())
	n, err = p.Refill()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, p.Refills)
}

func TestPoolBadCallbackCount(t *testing.T) {
	p := NewPool(4, 1, func(buf []byte, ctx interface{}) int {
		return len(buf) + 1
	}, nil)
	_, err := p.Refill()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 0, p.Retained())
}

func TestPoolDefaults(t *testing.T) {
	p := NewPool(0, 0, nil, nil)
	assert.Equal(t, DefaultBufferSize, p.Size())
	_, err := p.Refill()
	assert.ErrorIs(t, err, ErrIO)
}

type flakyReader struct{}

func (flakyReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestReaderCallback(t *testing.T) {
	buf := make([]byte, 4)
	r := strings.NewReader("abcdef")
	assert.Equal(t, 4, ReaderCallback(buf, r))
	assert.Equal(t, 2, ReaderCallback(buf, r))
	assert.Equal(t, 0, ReaderCallback(buf, r))
	assert.Equal(t, -1, ReaderCallback(buf, flakyReader{}))
	assert.Equal(t, -1, ReaderCallback(buf, "not a reader"))
}

func TestChunker(t *testing.T) {
	var out bytes.Buffer
	flushes := 0
	c := NewChunker(4, func(chunk []byte) error {
		flushes++
		assert.True(t, len(chunk) <= 4)
		out.Write(chunk)
		return nil
	})
	n, err := c.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 2, flushes)
	assert.Equal(t, 2, c.Len())
	require.NoError(t, c.Flush())
	assert.Equal(t, "0123456789", out.String())
	assert.Equal(t, int64(10), c.Flushed)
	// nothing left, no flush
	require.NoError(t, c.Flush())
	assert.Equal(t, 3, flushes)
}

func TestChunkerFlushError(t *testing.T) {
	c := NewChunker(2, func(chunk []byte) error {
		return ErrIO
	})
	n, err := c.Write([]byte("abc"))
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 2, n)
}
