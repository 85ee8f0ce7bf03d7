package frame

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/canboot/canboot/pkg/can"
)

// ErrNotReady is returned when no frame could be obtained from the queue.
var ErrNotReady = errors.New("no frame available")

// DefaultDepth is the queue depth of the device firmware.
const DefaultDepth = 20

// Queue is a bounded single-producer single-consumer frame queue. The
// producer side never blocks: when the queue is full the offered frame is
// dropped and counted. Nothing tells the sender about a drop, so a dropped
// frame silently desynchronizes the session.
type Queue struct {
	ch      chan Frame
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewQueue returns a queue holding at most depth frames.
func NewQueue(depth int) *Queue {
	return &Queue{
		ch:   make(chan Frame, depth),
		done: make(chan struct{}),
	}
}

// Offer enqueues f without blocking. It returns false if f was dropped
// because the queue was full or closed.
func (q *Queue) Offer(f Frame) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		n := q.dropped.Add(1)
		glog.Warningf("Frame queue full, dropped %s (%d dropped so far)", f.Type, n)
		return false
	}
}

// Next blocks until a frame is available. It has no timeout of its own; it
// returns ErrNotReady once ctx ends or the queue is closed and drained.
func (q *Queue) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	default:
	}
	select {
	case f := <-q.ch:
		return f, nil
	case <-q.done:
		return Frame{}, ErrNotReady
	case <-ctx.Done():
		return Frame{}, ErrNotReady
	}
}

// Len is the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped is the number of frames dropped because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close wakes a blocked consumer. Frames already queued can still be taken.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Pump is the receive path: it reads frames from bus, classifies them and
// offers the protocol frames to q. Frames with unknown identifiers are
// ignored. It returns when reading from the bus fails or ctx ends.
func Pump(ctx context.Context, bus can.Bus, q *Queue) error {
	for {
		cf, err := bus.ReadFrame(ctx)
		if err != nil {
			return err
		}
		f, ok := FromCAN(cf)
		if !ok {
			glog.V(2).Infof("Ignoring CAN frame %s", cf)
			continue
		}
		glog.V(2).Infof("Received %s", f)
		q.Offer(f)
	}
}
