package chunk

// FlushFunc receives a full chunk. The slice is reused after it returns.
type FlushFunc func(chunk []byte) error

// Chunker collects writes into a fixed-capacity buffer and hands it to onFlush every time it fills up.
// It never grows the buffer.
type Chunker struct {
	buf     []byte
	onFlush FlushFunc
	// Flushed counts the bytes given to onFlush
	Flushed int64
}

// NewChunker makes a Chunker with a buffer of size bytes
func NewChunker(size int, onFlush FlushFunc) *Chunker {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Chunker{
		buf:     make([]byte, 0, size),
		onFlush: onFlush,
	}
}

// Flush signals that it's time to write the buffer out to storage
func (c *Chunker) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	if c.onFlush != nil {
		if err := c.onFlush(c.buf); err != nil {
			return err
		}
	}
	c.Flushed += int64(len(c.buf))
	c.Reset()
	return nil
}

// Reset sets the length back to 0, making it re-usable
func (c *Chunker) Reset() {
	c.buf = c.buf[:0]
}

// Len returns the number of bytes waiting for a flush
func (c *Chunker) Len() int {
	return len(c.buf)
}

// Write takes a p slice of bytes and writes it to the buffer.
// It will never grow the buffer, flushing it as soon as it's full.
func (c *Chunker) Write(p []byte) (i int, err error) {
	remaining := len(p)
	bufCap := cap(c.buf)
	for {
		free := bufCap - len(c.buf)
		if free > remaining {
			// enough room in the buffer
			c.buf = append(c.buf, p[i:i+remaining]...)
			i += remaining
			return
		}
		// fill the buffer to the brim with a slice from p
		c.buf = append(c.buf, p[i:i+free]...)
		remaining -= free
		i += free
		if err = c.Flush(); err != nil {
			return i, err
		}
		if remaining == 0 {
			return
		}
	}
}
