package dfu

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/canboot/canboot/pkg/flash"
)

// ErrOutOfMemory is returned when data is appended to a full staging buffer.
var ErrOutOfMemory = errors.New("staging buffer full")

// Staging collects FlashData payloads until exactly one sector is buffered.
// Once full it refuses further data until Reset.
type Staging struct {
	buf  []byte
	fill int
}

// NewStaging returns an empty staging buffer of size bytes, filled with the
// erased pattern.
func NewStaging(size int) *Staging {
	return &Staging{buf: bytes.Repeat([]byte{flash.Erased}, size)}
}

// Append copies p at the fill cursor and reports whether the buffer is now
// full.
func (s *Staging) Append(p []byte) (full bool, err error) {
	if s.fill+len(p) > len(s.buf) {
		return s.Full(), fmt.Errorf("%w: %d of %d bytes used, %d more offered", ErrOutOfMemory, s.fill, len(s.buf), len(p))
	}
	copy(s.buf[s.fill:], p)
	s.fill += len(p)
	return s.Full(), nil
}

// Full reports whether exactly one sector is buffered.
func (s *Staging) Full() bool {
	return s.fill == len(s.buf)
}

// Len is the number of buffered bytes.
func (s *Staging) Len() int {
	return s.fill
}

// Cap is the buffer capacity.
func (s *Staging) Cap() int {
	return len(s.buf)
}

// Bytes returns the buffered sector. The slice is only valid until Reset.
func (s *Staging) Bytes() []byte {
	return s.buf
}

// Reset empties the buffer and restores the erased pattern.
func (s *Staging) Reset() {
	for i := range s.buf {
		s.buf[i] = flash.Erased
	}
	s.fill = 0
}
