// Package boot is the boundary between the bootloader and the code it hands
// control to. Reading the application header is portable; the transfer
// itself is platform specific and provided through Transferer.
package boot

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"

	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/meta"
)

// Header is the start of an application's vector table.
type Header struct {
	// StackPointer is the initial main stack pointer.
	StackPointer uint32
	// ResetVector is the entry point, with the Thumb bit set.
	ResetVector uint32
}

// Target is everything a Transferer needs to start an application.
type Target struct {
	Slot meta.Slot
	// VectorTable is the bus address of the application's vector table.
	VectorTable uint32
	Header      Header
}

func (t Target) String() string {
	return fmt.Sprintf("slot %s (vectors 0x%08x, msp 0x%08x, reset 0x%08x)", t.Slot, t.VectorTable, t.Header.StackPointer, t.Header.ResetVector)
}

// Transferer hands control to an application. On hardware it relocates the
// vector table, disables interrupts, de-initializes shared peripherals, loads
// the stack pointer and branches to the reset vector, and so never returns.
// The header is not validated before the jump; an unverified slot leads to
// undefined behaviour.
type Transferer interface {
	Transfer(t Target) error
}

// ReadTarget reads the application header of slot.
func ReadTarget(dev flash.Device, l flash.Layout, slot meta.Slot) (Target, error) {
	if !slot.Valid() {
		return Target{}, fmt.Errorf("%w: slot %d", flash.ErrInvalidArgument, slot)
	}
	addr := l.Slots[slot] + l.HeaderOffset
	buf := make([]byte, l.UnitSize)
	if err := flash.ReadData(dev, l, addr, buf); err != nil {
		return Target{}, fmt.Errorf("could not read application header: %w", err)
	}
	t := Target{
		Slot:        slot,
		VectorTable: l.BaseAddress + addr,
		Header: Header{
			StackPointer: binary.LittleEndian.Uint32(buf[0:4]),
			ResetVector:  binary.LittleEndian.Uint32(buf[4:8]) | 1,
		},
	}
	glog.Infof("App slot %s at 0x%x: msp 0x%x, reset handler 0x%x", slot, l.Slots[slot], t.Header.StackPointer, t.Header.ResetVector)
	return t, nil
}

// Start reads the header of slot and transfers control to it.
func Start(dev flash.Device, l flash.Layout, tr Transferer, slot meta.Slot) error {
	t, err := ReadTarget(dev, l, slot)
	if err != nil {
		return err
	}
	glog.Infof("Jumping to %s", t)
	if err := tr.Transfer(t); err != nil {
		return fmt.Errorf("transfer to slot %s failed: %w", slot, err)
	}
	return nil
}
