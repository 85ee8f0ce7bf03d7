package can

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is one end of an in-process CAN bus. Frames written on one end are
// read on the other.
type Loopback struct {
	rx   <-chan Frame
	tx   chan<- Frame
	done chan struct{}
	once *sync.Once
}

// NewLoopback returns two connected ends with buffered directions of the
// given depth.
func NewLoopback(depth int) (*Loopback, *Loopback) {
	ab := make(chan Frame, depth)
	ba := make(chan Frame, depth)
	done := make(chan struct{})
	once := &sync.Once{}
	return &Loopback{rx: ba, tx: ab, done: done, once: once}, &Loopback{rx: ab, tx: ba, done: done, once: once}
}

func (l *Loopback) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-l.done:
		return Frame{}, ErrClosed
	default:
	}
	select {
	case f := <-l.rx:
		return f, nil
	case <-l.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (l *Loopback) WriteFrame(f Frame) error {
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("frame data too long: %d bytes", len(f.Data))
	}
	f.Data = append([]byte{}, f.Data...)
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.tx <- f:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Close closes both ends.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
