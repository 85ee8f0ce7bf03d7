// Package sender is the host side of the update protocol: it puts the frame
// sequence of an image on a CAN bus, paced so that the device keeps up.
//
// The protocol has no acknowledgements. Pacing is the only flow control, so
// a device that is slower than the configured gaps silently drops frames.
package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/canboot/canboot/pkg/can"
	"github.com/canboot/canboot/pkg/frame"
	"github.com/canboot/canboot/pkg/image"
	"github.com/canboot/canboot/pkg/meta"
)

// Sender writes update sequences to a bus.
type Sender struct {
	bus    can.Bus
	config Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns a sender writing to bus.
func New(bus can.Bus, opts ...Option) *Sender {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Sender{bus: bus, config: cfg, sleep: sleepCtx}
}

// Config returns the pacing the sender was built with.
func (s *Sender) Config() Config {
	return s.config
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wire converts f to the frame put on the bus. Command frames carry a single
// zero byte.
func wire(f frame.Frame) can.Frame {
	cf := f.ToCAN()
	switch f.Type {
	case frame.FlashUpdateCmd, frame.CheckHashCmd, frame.JumpToApp:
		cf.Data = cf.Data[:1]
	}
	return cf
}

// Send transfers img to slot of the device, announcing it as version v.
func (s *Sender) Send(ctx context.Context, img *image.Image, slot meta.Slot, v meta.Version) error {
	if !slot.Valid() {
		return fmt.Errorf("invalid slot %d", slot)
	}
	if !v.Valid() {
		return fmt.Errorf("version %s is reserved", v)
	}
	frames := img.Frames(slot, v)
	start := time.Now()
	p := Progress{Phase: PhaseDigest, Sectors: img.Sectors(), TotalFrames: len(frames)}
	glog.Infof("Sending %d sectors to slot %s as version %s, digest %x", img.Sectors(), slot, v, img.Digest())

	for i, f := range frames {
		if err := s.bus.WriteFrame(wire(f)); err != nil {
			return fmt.Errorf("sending frame %d (%s): %w", i, f.Type, err)
		}
		glog.V(2).Infof("Sent %s", f)
		p.Frames = i + 1

		var gap time.Duration
		switch f.Type {
		case frame.HashData:
			gap = s.config.HashGap
		case frame.FlashData:
			p.Phase = PhaseData
			gap = s.config.FrameGap
		case frame.FlashUpdateCmd:
			p.Sector++
			glog.Infof("Committed sector %d/%d", p.Sector, p.Sectors)
			s.report(p, start)
			gap = s.config.SettleDelay
		case frame.CheckHashCmd:
			p.Phase = PhaseCheck
			s.report(p, start)
		}
		if err := s.sleep(ctx, gap); err != nil {
			return err
		}
	}
	glog.Infof("Image sent in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Sender) report(p Progress, start time.Time) {
	if s.config.ProgressCallback == nil {
		return
	}
	p.Elapsed = time.Since(start)
	s.config.ProgressCallback(p)
}
