// Package bootloader composes the boot-time flow: pick the newest valid
// slot, verify it and start it, or fall back to receiving an update over the
// bus.
package bootloader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"

	"github.com/canboot/canboot/pkg/boot"
	"github.com/canboot/canboot/pkg/can"
	"github.com/canboot/canboot/pkg/dfu"
	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/frame"
	"github.com/canboot/canboot/pkg/integrity"
	"github.com/canboot/canboot/pkg/meta"
)

// Bootloader owns the flash device, the bus the updates arrive on, and the
// persisted state.
type Bootloader struct {
	dev    flash.Device
	layout flash.Layout
	tr     boot.Transferer
	bus    can.Bus
	depth  int

	store   *meta.Store
	session *dfu.Session
}

// Option configures a Bootloader.
type Option func(*Bootloader)

// WithQueueDepth sets the depth of the receive queue between the bus and the
// update session.
func WithQueueDepth(n int) Option {
	return func(b *Bootloader) {
		if n > 0 {
			b.depth = n
		}
	}
}

// New returns a bootloader over dev, receiving updates on bus.
func New(dev flash.Device, l flash.Layout, tr boot.Transferer, bus can.Bus, opts ...Option) (*Bootloader, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	b := &Bootloader{
		dev:    dev,
		layout: l,
		tr:     tr,
		bus:    bus,
		depth:  frame.DefaultDepth,
		store:  meta.NewStore(dev, l),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Store returns the persisted state store.
func (b *Bootloader) Store() *meta.Store {
	return b.store
}

// Session returns the update session, or nil if Run has not entered it.
func (b *Bootloader) Session() *dfu.Session {
	return b.session
}

// Boot loads the persisted state and tries to start the selected slot. It
// reports false when the caller should enter the update loop instead: no
// slot is valid, an update was requested, or the selected image does not
// match its digest. Nothing on flash is modified in that case.
func (b *Bootloader) Boot() (bool, error) {
	if err := b.store.Load(); err != nil {
		return false, err
	}
	st := b.store.State()
	slot, err := meta.Select(st)
	if err != nil {
		glog.Infof("No bootable slot: %v", err)
		return false, nil
	}
	glog.Infof("Selected slot %s (version %s)", slot, st.Slots[slot].Version)
	if st.UpdateRequired {
		glog.Infof("Update required, skipping verification")
		return false, nil
	}

	md := st.Slots[slot]
	if md.SectorCount == 0 || md.SectorCount > b.layout.SectorsPerSlot() {
		glog.Warningf("Slot %s declares %d sectors, not verifying", slot, md.SectorCount)
		return false, nil
	}
	ok, err := integrity.VerifySlot(b.dev, b.layout, slot, md)
	if err != nil {
		return false, err
	}
	if !ok {
		glog.Warningf("Hash check failed for slot %s", slot)
		return false, nil
	}
	glog.Infof("Hash check passed for slot %s", slot)

	if err := b.store.Flush(); err != nil {
		return false, err
	}
	if err := boot.Start(b.dev, b.layout, b.tr, slot); err != nil {
		return false, err
	}
	return true, nil
}

// Run boots the selected slot if it verifies, and otherwise receives frames
// from the bus and drives an update session until control was handed to the
// new image or ctx ends. A failed boot attempt is logged and also leads to
// the update session, unless the persisted state could not be read: an
// update would then overwrite the other slot's metadata, so Run fails.
func (b *Bootloader) Run(ctx context.Context) error {
	booted, err := b.Boot()
	if err != nil {
		glog.Errorf("Boot failed: %v", err)
	}
	if booted {
		return nil
	}
	glog.Infof("Entering DFU mode")
	return b.runSession(ctx)
}

func (b *Bootloader) runSession(ctx context.Context) error {
	if !b.store.Loaded() {
		if err := b.store.Load(); err != nil {
			return fmt.Errorf("cannot enter update mode: %w", err)
		}
	}
	s, err := dfu.NewSession(b.dev, b.layout, b.store, b.tr)
	if err != nil {
		return err
	}
	b.session = s

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	q := frame.NewQueue(b.depth)
	pumpErr := make(chan error, 1)
	go func() {
		defer q.Close()
		pumpErr <- frame.Pump(ctx, b.bus, q)
	}()

	err = s.Run(ctx, q)
	cancel()
	perr := <-pumpErr
	if s.Done() {
		return err
	}
	if errors.Is(err, frame.ErrNotReady) && perr != nil && !errors.Is(perr, context.Canceled) {
		return fmt.Errorf("receive failed: %w", perr)
	}
	return err
}

// Close releases the bus and, if it has one, the flash device.
func (b *Bootloader) Close() error {
	var result *multierror.Error
	if err := b.bus.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("bus: %w", err))
	}
	if c, ok := b.dev.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("flash: %w", err))
		}
	}
	return result.ErrorOrNil()
}
