// Package slcan drives serial-line CAN adapters speaking the Lawicel ASCII
// protocol (CANable, CANUSB and most USB-serial CAN dongles).
package slcan

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"go.bug.st/serial"

	"github.com/canboot/canboot/internal/syncutil"
	"github.com/canboot/canboot/pkg/can"
)

// ErrBadLine is returned when a received line is not a valid frame.
var ErrBadLine = errors.New("malformed slcan line")

// bitrates maps bus speeds to the argument of the S command.
var bitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// Bitrates lists the supported bus speeds.
func Bitrates() []int {
	out := make([]int, 0, len(bitrates))
	for b := range bitrates {
		out = append(out, b)
	}
	return out
}

const (
	serialBaud  = 115200
	readTimeout = 50 * time.Millisecond
)

// Bus is a CAN bus behind an slcan adapter.
type Bus struct {
	port io.ReadWriteCloser
	wmu  syncutil.Mutex

	pending []byte
}

// Open opens the serial port portName and brings the channel up at bitrate.
func Open(portName string, bitrate int) (*Bus, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: serialBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}
	b, err := New(port, bitrate)
	if err != nil {
		port.Close()
		return nil, err
	}
	glog.Infof("slcan adapter on %s up at %d bit/s", portName, bitrate)
	return b, nil
}

// New runs the channel open sequence on port. port must return from Read
// periodically even without data, as serial ports with a read timeout do.
func New(port io.ReadWriteCloser, bitrate int) (*Bus, error) {
	code, ok := bitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported bitrate %d", bitrate)
	}
	b := &Bus{port: port}
	// Close any open channel first; adapters reject S while open.
	for _, cmd := range []string{"C", "S" + string(code), "O"} {
		if err := b.command(cmd); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bus) command(cmd string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	glog.V(2).Infof("slcan > %s", cmd)
	if _, err := b.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("slcan command %q: %w", cmd, err)
	}
	return nil
}

// Encode returns the slcan line for f, without the trailing carriage return.
func Encode(f can.Frame) (string, error) {
	if len(f.Data) > can.MaxDataLen {
		return "", fmt.Errorf("frame data too long: %d bytes", len(f.Data))
	}
	var line string
	if f.Extended {
		if f.ID > 0x1fffffff {
			return "", fmt.Errorf("extended id 0x%x out of range", f.ID)
		}
		line = fmt.Sprintf("T%08X%d", f.ID, len(f.Data))
	} else {
		if f.ID > 0x7ff {
			return "", fmt.Errorf("standard id 0x%x out of range", f.ID)
		}
		line = fmt.Sprintf("t%03X%d", f.ID, len(f.Data))
	}
	return line + fmt.Sprintf("%X", f.Data), nil
}

// Decode parses a received t or T line, without the trailing carriage
// return.
func Decode(line []byte) (can.Frame, error) {
	if len(line) == 0 {
		return can.Frame{}, fmt.Errorf("%w: empty", ErrBadLine)
	}
	var idLen int
	var f can.Frame
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		f.Extended = true
	default:
		return can.Frame{}, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	if len(line) < 1+idLen+1 {
		return can.Frame{}, fmt.Errorf("%w: %q too short", ErrBadLine, line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: id: %v", ErrBadLine, err)
	}
	f.ID = uint32(id)
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: dlc %q", ErrBadLine, line[1+idLen])
	}
	payload := line[2+idLen:]
	// Some adapters append a timestamp of four hex digits.
	if len(payload) != 2*dlc && len(payload) != 2*dlc+4 {
		return can.Frame{}, fmt.Errorf("%w: %d data digits for dlc %d", ErrBadLine, len(payload), dlc)
	}
	f.Data = make([]byte, dlc)
	if _, err := hex.Decode(f.Data, payload[:2*dlc]); err != nil {
		return can.Frame{}, fmt.Errorf("%w: data: %v", ErrBadLine, err)
	}
	return f, nil
}

// WriteFrame transmits f.
func (b *Bus) WriteFrame(f can.Frame) error {
	line, err := Encode(f)
	if err != nil {
		return err
	}
	return b.command(line)
}

// ReadFrame returns the next received data frame. Command acknowledgements
// and lines that do not parse are skipped.
func (b *Bus) ReadFrame(ctx context.Context) (can.Frame, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexAny(b.pending, "\r\a"); i >= 0 {
			line := b.pending[:i]
			bell := b.pending[i] == '\a'
			b.pending = b.pending[i+1:]
			if bell {
				glog.Warningf("slcan adapter reported an error")
				continue
			}
			if len(line) == 0 || line[0] == 'z' || line[0] == 'Z' {
				continue
			}
			f, err := Decode(line)
			if err != nil {
				glog.Warningf("Ignoring slcan line: %v", err)
				continue
			}
			glog.V(2).Infof("slcan < %s", f)
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return can.Frame{}, err
		}
		n, err := b.port.Read(buf)
		if err != nil {
			return can.Frame{}, fmt.Errorf("slcan read: %w", err)
		}
		b.pending = append(b.pending, buf[:n]...)
	}
}

// Close closes the channel and the serial port.
func (b *Bus) Close() error {
	var result *multierror.Error
	if err := b.command("C"); err != nil {
		result = multierror.Append(result, err)
	}
	if err := b.port.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing serial port: %w", err))
	}
	return result.ErrorOrNil()
}
