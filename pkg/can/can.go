// Package can defines the CAN bus abstraction the bootloader and the host
// tools use, and an in-process loopback bus. Adapter drivers live in the
// subpackages.
package can

import (
	"context"
	"errors"
	"fmt"
)

// MaxDataLen is the payload limit of a classic CAN frame.
const MaxDataLen = 8

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Frame is a classic CAN data frame.
type Frame struct {
	ID       uint32
	Extended bool
	Data     []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("ID=0x%X Data=% X", f.ID, f.Data)
}

// Bus is a CAN channel. ReadFrame blocks until a frame arrives, the context
// ends or the bus is closed.
type Bus interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}
