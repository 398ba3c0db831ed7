package chunk

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	// DefaultBufferSize is the size of each physical read buffer
	DefaultBufferSize = 1024 * 1024 / 2
	// DefaultMaxBuffers caps how many buffers may be held at once
	DefaultMaxBuffers = 1000
)

// ReadCallback fills buf with at most len(buf) bytes of the stream and returns
// the number of bytes read. A negative value signals an I/O error, 0 the end of the stream.
type ReadCallback func(buf []byte, ctx interface{}) int

// ReaderCallback is a ReadCallback that expects ctx to be an io.Reader
func ReaderCallback(buf []byte, ctx interface{}) int {
	r, ok := ctx.(io.Reader)
	if !ok {
		return -1
	}
	for {
		n, err := r.Read(buf)
		if n > 0 {
			return n
		}
		if err == io.EOF {
			return 0
		}
		if err != nil {
			return -1
		}
	}
}

type block struct {
	data []byte
}

func (b *block) full() bool {
	return len(b.data) == cap(b.data)
}

// Pool holds the physical buffers filled by the read callback.
// Every retained buffer except the last one is full, so the buffer that holds
// an absolute stream offset can be found by division.
type Pool struct {
	size int
	max  int

	read ReadCallback
	ctx  interface{}

	bufs []*block
	free []*block
	// absolute stream offset of bufs[0].data[0]
	base int64
	// absolute offset just past the last byte read
	end int64
	eof bool

	// Refills counts the calls made to the read callback
	Refills int
}

// NewPool creates a pool reading with cb. size and max default to
// DefaultBufferSize and DefaultMaxBuffers when they are not positive
func NewPool(size, max int, cb ReadCallback, ctx interface{}) *Pool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if max <= 0 {
		max = DefaultMaxBuffers
	}
	return &Pool{
		size: size,
		max:  max,
		read: cb,
		ctx:  ctx,
	}
}

// Size returns the size of a single buffer
func (p *Pool) Size() int {
	return p.size
}

// Max returns the buffer ceiling
func (p *Pool) Max() int {
	return p.max
}

// Retained returns the number of buffers currently held
func (p *Pool) Retained() int {
	return len(p.bufs)
}

// EOF reports whether the read callback signalled the end of the stream
func (p *Pool) EOF() bool {
	return p.eof
}

// TailFull reports whether the next Refill needs a new buffer
func (p *Pool) TailFull() bool {
	n := len(p.bufs)
	return n == 0 || p.bufs[n-1].full()
}

// End returns the absolute offset just past the last byte read
func (p *Pool) End() int64 {
	return p.end
}

// Refill reads more of the stream into the tail buffer, or into a new buffer if the tail is full.
// It returns the number of bytes read, 0 at the end of the stream.
func (p *Pool) Refill() (int, error) {
	if p.eof {
		return 0, nil
	}
	if p.read == nil {
		return 0, errors.Wrap(ErrIO, "no read callback")
	}
	var tail *block
	allocated := false
	if n := len(p.bufs); n > 0 && !p.bufs[n-1].full() {
		tail = p.bufs[n-1]
	} else {
		if len(p.bufs) >= p.max {
			return 0, errors.Wrapf(ErrResourceExhausted, "%d buffers of %d bytes", p.max, p.size)
		}
		tail = p.alloc()
		p.bufs = append(p.bufs, tail)
		allocated = true
	}
	spare := tail.data[len(tail.data):cap(tail.data)]
	n := p.read(spare, p.ctx)
	p.Refills++
	if n < 0 || n > len(spare) {
		p.drop(allocated)
		return 0, errors.Wrapf(ErrIO, "read callback returned %d", n)
	}
	if n == 0 {
		p.eof = true
		p.drop(allocated)
		return 0, nil
	}
	tail.data = tail.data[:len(tail.data)+n]
	p.end += int64(n)
	return n, nil
}

// drop gives back a tail buffer that was allocated but never filled
func (p *Pool) drop(allocated bool) {
	if !allocated {
		return
	}
	last := len(p.bufs) - 1
	p.recycle(p.bufs[last])
	p.bufs = p.bufs[:last]
}

func (p *Pool) alloc() *block {
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		return b
	}
	return &block{data: make([]byte, 0, p.size)}
}

func (p *Pool) recycle(b *block) {
	b.data = b.data[:0]
	p.free = append(p.free, b)
}

// Byte returns the byte at the absolute offset off, which must be a retained offset
func (p *Pool) Byte(off int64) byte {
	rel := off - p.base
	return p.bufs[rel/int64(p.size)].data[rel%int64(p.size)]
}

// Each calls fn with the retained slices covering [from, to), in order.
// The slices alias the pool's buffers and are only valid until the next Release
func (p *Pool) Each(from, to int64, fn func([]byte) error) error {
	if from < p.base || to > p.end || from > to {
		return errors.Wrapf(ErrMalformedStream, "range %d-%d outside of %d-%d", from, to, p.base, p.end)
	}
	for from < to {
		rel := from - p.base
		b := p.bufs[rel/int64(p.size)]
		start := int(rel % int64(p.size))
		stop := len(b.data)
		if remain := to - from; int64(stop-start) > remain {
			stop = start + int(remain)
		}
		if err := fn(b.data[start:stop]); err != nil {
			return err
		}
		from += int64(stop - start)
	}
	return nil
}

// Bytes copies the range [from, to) out of the pool
func (p *Pool) Bytes(from, to int64) ([]byte, error) {
	if to-from > math.MaxInt32 {
		return nil, errors.Wrapf(ErrNoMemory, "cannot hold %d bytes", to-from)
	}
	out := make([]byte, 0, int(to-from))
	err := p.Each(from, to, func(b []byte) error {
		out = append(out, b...)
		return nil
	})
	return out, err
}

// Release returns every buffer that lies entirely before the absolute offset to
func (p *Pool) Release(to int64) {
	for len(p.bufs) > 0 {
		b := p.bufs[0]
		if !b.full() || p.base+int64(p.size) > to {
			return
		}
		p.bufs = p.bufs[1:]
		p.base += int64(p.size)
		p.recycle(b)
	}
}
