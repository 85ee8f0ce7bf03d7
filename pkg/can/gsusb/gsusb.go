// Package gsusb drives USB CAN adapters implementing the gs_usb protocol
// (candleLight firmware and its relatives) through libusb.
package gsusb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"github.com/canboot/canboot/internal/syncutil"
	"github.com/canboot/canboot/pkg/can"
)

const (
	epIn  = 1
	epOut = 2
)

// Bus is channel 0 of an opened gs_usb adapter.
type Bus struct {
	ctx  *gousb.Context
	usb  *gousb.Device
	done func()
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
	Desc *Description

	wmu  syncutil.Mutex
	echo uint32
}

func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}

// Open finds the first known adapter, configures it for bitrate and starts
// the channel.
func Open(bitrate int) (*Bus, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize USB: %w", err)
	}

	var errs error
	for _, desc := range Descriptions {
		usb, err := ctx.OpenDeviceWithVIDPID(desc.VID, desc.PID)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if usb == nil {
			continue
		}
		desc := desc
		b := &Bus{ctx: ctx, usb: usb, Desc: &desc}
		if err := b.start(uint32(bitrate)); err != nil {
			b.Close()
			return nil, err
		}
		glog.Infof("%s adapter up at %d bit/s", desc.Kind, bitrate)
		return b, nil
	}
	ctx.Close()
	if errs == nil {
		return nil, fmt.Errorf("no adapter found")
	}
	return nil, errs
}

func (b *Bus) control(rType uint8, req request, data []byte) error {
	n, err := b.usb.Control(rType, uint8(req), 0, 0, data)
	if err != nil {
		return fmt.Errorf("%s: %w", req, err)
	}
	if n != len(data) {
		return fmt.Errorf("%s: transferred %d of %d bytes", req, n, len(data))
	}
	return nil
}

func (b *Bus) start(bitrate uint32) error {
	if err := b.usb.SetAutoDetach(true); err != nil {
		return err
	}
	intf, done, err := b.usb.DefaultInterface()
	if err != nil {
		return err
	}
	b.done = done
	if b.in, err = intf.InEndpoint(epIn); err != nil {
		return err
	}
	if b.out, err = intf.OutEndpoint(epOut); err != nil {
		return err
	}

	if err := b.control(rTypeOut, reqHostFormat, marshal(hostFormatMagic)); err != nil {
		return err
	}
	raw := make([]byte, binary.Size(BTConst{}))
	if err := b.control(rTypeIn, reqBTConst, raw); err != nil {
		return err
	}
	var c BTConst
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &c); err != nil {
		return err
	}
	glog.V(1).Infof("Adapter clock %d Hz, brp %d..%d", c.Fclk, c.BrpMin, c.BrpMax)
	t, err := ComputeBitTiming(c, bitrate)
	if err != nil {
		return err
	}
	glog.V(1).Infof("Bit timing %+v", t)
	if err := b.control(rTypeOut, reqBitTiming, marshal(&t)); err != nil {
		return err
	}
	return b.control(rTypeOut, reqMode, marshal(&deviceMode{Mode: modeStart}))
}

// ReadFrame returns the next frame received from the bus. Echoes of
// transmitted frames are skipped.
func (b *Bus) ReadFrame(ctx context.Context) (can.Frame, error) {
	buf := make([]byte, b.in.Desc.MaxPacketSize)
	for {
		n, err := b.in.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return can.Frame{}, ctx.Err()
			}
			return can.Frame{}, fmt.Errorf("usb read: %w", err)
		}
		f, rx, err := decodeFrame(buf[:n])
		if err != nil {
			glog.Warningf("Ignoring host frame: %v", err)
			continue
		}
		if !rx {
			continue
		}
		return f, nil
	}
}

// WriteFrame transmits f.
func (b *Bus) WriteFrame(f can.Frame) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	data, err := encodeFrame(f, b.echo)
	if err != nil {
		return err
	}
	// The adapter has a limited number of echo slots.
	b.echo = (b.echo + 1) % 10
	if _, err := b.out.Write(data); err != nil {
		return fmt.Errorf("usb write: %w", err)
	}
	return nil
}

// Close stops the channel and releases the device.
func (b *Bus) Close() error {
	var result *multierror.Error
	if b.out != nil {
		if err := b.control(rTypeOut, reqMode, marshal(&deviceMode{Mode: modeReset})); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if b.done != nil {
		b.done()
	}
	if err := b.usb.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := b.ctx.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
