// Package dfu implements the device side of the CAN firmware update protocol:
// a state machine that ingests the expected digest and slot metadata, buffers
// image data one sector at a time, commits sectors to the target slot and
// finally checks the written image against the expected digest before
// handing control to it.
//
// A Session serves exactly one update per boot. The rolling content hash it
// keeps is never reset, so an interrupted update can only be restarted by
// rebooting the device.
package dfu

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/looplab/fsm"

	"github.com/canboot/canboot/pkg/boot"
	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/frame"
	"github.com/canboot/canboot/pkg/integrity"
	"github.com/canboot/canboot/pkg/meta"
)

var (
	// ErrInvalidState is returned when a frame does not match what the
	// current state expects. The frame is discarded and nothing changes.
	ErrInvalidState = errors.New("unexpected frame for state")
	// ErrDigestMismatch is returned when the written image does not hash to
	// the expected digest. The session stays ready for another check.
	ErrDigestMismatch = errors.New("image digest mismatch")
	// ErrHalted is returned for every frame after a flash I/O failure
	// aborted the session.
	ErrHalted = errors.New("session halted")
	// ErrInvalidMetadata is returned when the metadata frame names a slot
	// or sector count the layout cannot hold.
	ErrInvalidMetadata = errors.New("invalid slot metadata")
)

// Session is the update state machine and all state it owns: digest
// builder, staging buffer, sector writer with its rolling hash, and the
// target slot.
type Session struct {
	dev    flash.Device
	layout flash.Layout
	store  *meta.Store
	tr     boot.Transferer

	fsm     *fsm.FSM
	digest  digestBuilder
	staging *Staging
	writer  *Writer
	slot    meta.Slot
	halted  error
}

// NewSession returns a session in StateWaitForHashData. store must already
// be loaded; the session updates its in-memory state and flushes it once the
// new image is verified.
func NewSession(dev flash.Device, l flash.Layout, store *meta.Store, tr boot.Transferer) (*Session, error) {
	if l.SectorSize%frame.PayloadSize != 0 {
		return nil, fmt.Errorf("%w: sector size %d is not a multiple of the frame payload", flash.ErrInvalidArgument, l.SectorSize)
	}
	s := &Session{
		dev:     dev,
		layout:  l,
		store:   store,
		tr:      tr,
		staging: NewStaging(int(l.SectorSize)),
		writer:  NewWriter(dev, l),
	}
	s.fsm = fsm.NewFSM(
		StateWaitForHashData,
		fsm.Events{
			{Name: evHashReceived, Src: []string{StateWaitForHashData}, Dst: StateWaitForFlashData},
			{Name: evSectorFull, Src: []string{StateWaitForFlashData}, Dst: StateWaitForFlashUpdateCmd},
			{Name: evSectorCommitted, Src: []string{StateWaitForFlashUpdateCmd}, Dst: StateWaitForFlashData},
			{Name: evImageWritten, Src: []string{StateWaitForFlashUpdateCmd}, Dst: StateWaitForCheckHashCmd},
			{Name: evVerified, Src: []string{StateWaitForCheckHashCmd}, Dst: StateJumpToApp},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				glog.V(1).Infof("DFU state %s -> %s (%s)", e.Src, e.Dst, e.Event)
			},
		},
	)
	return s, nil
}

// State returns the current state name.
func (s *Session) State() string {
	return s.fsm.Current()
}

// Snapshot is a read-only view of the session's progress.
type Snapshot struct {
	State            string
	Slot             meta.Slot
	DigestFill       int
	StagingFill      int
	SectorsCommitted uint32
	Halted           bool
}

// Snapshot returns the current progress.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		State:            s.fsm.Current(),
		Slot:             s.slot,
		DigestFill:       s.digest.fill,
		StagingFill:      s.staging.Len(),
		SectorsCommitted: s.writer.Committed(),
		Halted:           s.halted != nil,
	}
}

// Done reports whether control was handed to the new image.
func (s *Session) Done() bool {
	return s.fsm.Is(StateJumpToApp)
}

func (s *Session) event(name string) error {
	if err := s.fsm.Event(name); err != nil {
		return fmt.Errorf("fsm event %s in %s: %w", name, s.fsm.Current(), err)
	}
	return nil
}

func (s *Session) unexpected(f frame.Frame) error {
	glog.Warningf("Invalid packet type %s in state %s", f.Type, s.fsm.Current())
	return fmt.Errorf("%w: %s in %s", ErrInvalidState, f.Type, s.fsm.Current())
}

// HandleFrame performs the one transition f triggers.
//
// In StateWaitForFlashUpdateCmd any frame, whatever its type, commits the
// staged sector and is then discarded.
func (s *Session) HandleFrame(f frame.Frame) error {
	if s.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, s.halted)
	}
	switch s.fsm.Current() {
	case StateWaitForHashData:
		if f.Type != frame.HashData {
			return s.unexpected(f)
		}
		return s.handleHashData(f)

	case StateWaitForFlashData:
		if f.Type != frame.FlashData {
			return s.unexpected(f)
		}
		full, err := s.staging.Append(f.Payload[:])
		if err != nil {
			glog.Errorf("Error storing flash data: %v", err)
			return err
		}
		if full {
			return s.event(evSectorFull)
		}
		return nil

	case StateWaitForFlashUpdateCmd:
		if f.Type != frame.FlashUpdateCmd {
			glog.V(1).Infof("Committing sector on %s", f.Type)
		}
		done, err := s.writer.Commit(s.staging.Bytes())
		if err != nil {
			glog.Errorf("Error updating flash: %v", err)
			s.halted = err
			return err
		}
		s.staging.Reset()
		if done {
			glog.Infof("All flash sectors updated for slot %s", s.slot)
			return s.event(evImageWritten)
		}
		return s.event(evSectorCommitted)

	case StateWaitForCheckHashCmd:
		if f.Type != frame.CheckHashCmd {
			return s.unexpected(f)
		}
		return s.checkHash()
	}
	return s.unexpected(f)
}

func (s *Session) handleHashData(f frame.Frame) error {
	md, complete := s.digest.feed(f.Payload)
	if !complete {
		return nil
	}
	slot := meta.Slot(md.slot)
	if !slot.Valid() {
		glog.Errorf("Metadata frame names slot %d", md.slot)
		return fmt.Errorf("%w: slot %d", ErrInvalidMetadata, md.slot)
	}
	if md.sectors == 0 || uint32(md.sectors) > s.layout.SectorsPerSlot() {
		glog.Errorf("Metadata frame declares %d sectors, slot holds %d", md.sectors, s.layout.SectorsPerSlot())
		return fmt.Errorf("%w: %d sectors", ErrInvalidMetadata, md.sectors)
	}
	s.store.SetSlot(slot, meta.SlotMetadata{
		Digest:      s.digest.digest,
		Version:     md.version,
		SectorCount: uint32(md.sectors),
	})
	s.slot = slot
	s.writer.Begin(slot, uint32(md.sectors))
	glog.Infof("Update for slot %s: version %s, %d sectors", slot, md.version, md.sectors)
	return s.event(evHashReceived)
}

func (s *Session) checkHash() error {
	got := s.writer.Sum()
	want := s.digest.digest
	glog.V(1).Infof("Computed digest %x, expected %x", got, want)
	if !integrity.Equal(got, want) {
		glog.Errorf("Hash check failed for slot %s", s.slot)
		return ErrDigestMismatch
	}
	s.store.SetUpdateRequired(false)
	if err := s.store.Flush(); err != nil {
		glog.Errorf("Failed to write flash data to storage area: %v", err)
		return err
	}
	t, err := boot.ReadTarget(s.dev, s.layout, s.slot)
	if err != nil {
		return err
	}
	if err := s.event(evVerified); err != nil {
		return err
	}
	glog.Infof("Jumping to %s", t)
	return s.tr.Transfer(t)
}

// Run consumes frames from q until control has been transferred or no
// further frame can be obtained. Errors from individual frames are logged
// and do not stop the loop. After the transfer Run returns the Transferer's
// result.
func (s *Session) Run(ctx context.Context, q *frame.Queue) error {
	glog.Infof("Starting polling loop...")
	for {
		f, err := q.Next(ctx)
		if err != nil {
			glog.Errorf("Could not get frame: %v", err)
			return err
		}
		glog.V(2).Infof("Handling %s in %s", f, s.fsm.Current())
		err = s.HandleFrame(f)
		if s.Done() {
			return err
		}
		if err != nil {
			glog.V(1).Infof("Frame %s: %v", f.Type, err)
		}
	}
}
