package chunk

import (
	"bytes"

	"github.com/pkg/errors"
)

// DefaultMaxMisses is how many times a single search may read a whole pool's worth of data
// (max buffers of buffer size) without seeing its marker before the stream is considered malformed
const DefaultMaxMisses = 100

// Scanner searches a Pool for markers starting from its cursor.
// A marker may straddle any number of physical reads.
type Scanner struct {
	pool *Pool
	pos  int64
	// MaxMisses bounds how many pool capacities one search may scan without completing a match,
	// negative for no bound. A search that keeps its body in memory runs into the pool's
	// buffer ceiling before its first miss
	MaxMisses int
}

func NewScanner(pool *Pool) *Scanner {
	return &Scanner{pool: pool, MaxMisses: DefaultMaxMisses}
}

// Pos returns the absolute offset of the cursor
func (s *Scanner) Pos() int64 {
	return s.pos
}

// Pool returns the underlying pool
func (s *Scanner) Pool() *Pool {
	return s.pool
}

// prefixTable is the failure function of marker, for the streaming match
func prefixTable(marker []byte) []int {
	t := make([]int, len(marker))
	k := 0
	for i := 1; i < len(marker); i++ {
		for k > 0 && marker[i] != marker[k] {
			k = t[k-1]
		}
		if marker[i] == marker[k] {
			k++
		}
		t[i] = k
	}
	return t
}

// Until scans from the cursor for marker and moves the cursor just past it.
// The bytes between the cursor and the marker form the body, less trim if the body ends with it.
// With a nil spill the body is kept in the pool until the marker is found, then returned.
// With a spill func, the body is handed to spill as soon as its bytes can't be part of the marker,
// and the buffers holding them are released, so the returned body is nil.
func (s *Scanner) Until(marker, trim []byte, spill func([]byte) error) ([]byte, error) {
	if len(marker) == 0 {
		return nil, errors.New("empty marker")
	}
	table := prefixTable(marker)
	scanned := s.pos
	flushed := s.pos
	matched := 0
	filled := 0
	for {
		for end := s.pool.End(); scanned < end; {
			c := s.pool.Byte(scanned)
			scanned++
			for matched > 0 && c != marker[matched] {
				matched = table[matched-1]
			}
			if c == marker[matched] {
				matched++
			}
			if matched == len(marker) {
				return s.found(scanned, flushed, marker, trim, spill)
			}
		}
		if spill != nil {
			// everything before a possible partial match (and the trim in front of it) is body
			if safe := scanned - int64(matched) - int64(len(trim)); safe > flushed {
				if err := s.pool.Each(flushed, safe, spill); err != nil {
					return nil, err
				}
				flushed = safe
				s.pool.Release(flushed)
			}
		}
		if s.pool.EOF() {
			return nil, errors.Wrapf(ErrMalformedStream, "%q not found before end of stream", marker)
		}
		// short reads that top up the tail buffer don't count, only new buffers do
		if s.pool.TailFull() {
			if misses := filled / s.pool.Max(); s.MaxMisses >= 0 && misses >= s.MaxMisses {
				return nil, errors.Wrapf(ErrMalformedStream, "%q not found in %d buffers", marker, filled)
			}
			filled++
		}
		if _, err := s.pool.Refill(); err != nil {
			return nil, err
		}
	}
}

func (s *Scanner) found(scanned, flushed int64, marker, trim []byte, spill func([]byte) error) ([]byte, error) {
	bodyEnd := scanned - int64(len(marker))
	if n := int64(len(trim)); n > 0 && bodyEnd-n >= flushed {
		if tail, err := s.pool.Bytes(bodyEnd-n, bodyEnd); err == nil && bytes.Equal(tail, trim) {
			bodyEnd -= n
		}
	}
	var body []byte
	var err error
	if spill != nil {
		if bodyEnd > flushed {
			err = s.pool.Each(flushed, bodyEnd, spill)
		}
	} else {
		body, err = s.pool.Bytes(s.pos, bodyEnd)
	}
	if err != nil {
		return nil, err
	}
	s.pos = scanned
	s.pool.Release(s.pos)
	return body, nil
}

// Peek returns up to n bytes from the cursor without consuming them, refilling as needed.
// Fewer bytes are returned when the stream ends.
func (s *Scanner) Peek(n int) ([]byte, error) {
	for s.pool.End()-s.pos < int64(n) && !s.pool.EOF() {
		if _, err := s.pool.Refill(); err != nil {
			return nil, err
		}
	}
	to := s.pos + int64(n)
	if to > s.pool.End() {
		to = s.pool.End()
	}
	return s.pool.Bytes(s.pos, to)
}

// Skip advances the cursor by up to n bytes already read
func (s *Scanner) Skip(n int) {
	s.pos += int64(n)
	if s.pos > s.pool.End() {
		s.pos = s.pool.End()
	}
	s.pool.Release(s.pos)
}
