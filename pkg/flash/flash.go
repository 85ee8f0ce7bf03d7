// Package flash wraps the raw flash primitives of the target (read, sector
// erase, unit-sized program) and provides the aligned access helpers the
// bootloader is built on.
package flash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

var (
	// ErrInvalidArgument is returned for misaligned or out-of-range accesses.
	ErrInvalidArgument = errors.New("invalid flash argument")
	// ErrIO is returned when the underlying device fails a read, erase or
	// write.
	ErrIO = errors.New("flash I/O error")
)

// Erased is the value of every byte of a freshly erased sector.
const Erased byte = 0xff

// Device is a synchronous flash device. Offsets are relative to the start of
// the device. Implementations may require addresses and sizes aligned to the
// layout's unit size (Write, Read) or sector size (Erase).
type Device interface {
	Read(addr uint32, p []byte) error
	Erase(addr uint32, size uint32) error
	Write(addr uint32, p []byte) error
}

// ReadData reads len(p) bytes starting at addr, one program unit at a time.
// addr must be unit aligned. A trailing partial unit is read through a
// bounce buffer.
func ReadData(dev Device, l Layout, addr uint32, p []byte) error {
	if addr%l.UnitSize != 0 {
		glog.Errorf("Read address 0x%x not aligned to unit size %d", addr, l.UnitSize)
		return fmt.Errorf("%w: read address 0x%x not aligned to %d", ErrInvalidArgument, addr, l.UnitSize)
	}
	unit := make([]byte, l.UnitSize)
	for off := uint32(0); off < uint32(len(p)); off += l.UnitSize {
		if err := dev.Read(addr+off, unit); err != nil {
			glog.Errorf("Flash read at 0x%x failed: %v", addr+off, err)
			return fmt.Errorf("%w: read at 0x%x: %v", ErrIO, addr+off, err)
		}
		copy(p[off:], unit)
	}
	return nil
}

// WriteSector erases the sector at addr and programs p into it unit by unit.
// If p is not a whole number of units the last unit is padded with the erased
// pattern. p must not be larger than one sector.
func WriteSector(dev Device, l Layout, addr uint32, p []byte) error {
	if addr%l.UnitSize != 0 || addr%l.SectorSize != 0 {
		glog.Errorf("Sector address 0x%x not aligned", addr)
		return fmt.Errorf("%w: sector address 0x%x not aligned", ErrInvalidArgument, addr)
	}
	if uint32(len(p)) > l.SectorSize {
		return fmt.Errorf("%w: %d bytes do not fit in a %d byte sector", ErrInvalidArgument, len(p), l.SectorSize)
	}
	if err := dev.Erase(addr, l.SectorSize); err != nil {
		glog.Errorf("Flash erase at 0x%x failed: %v", addr, err)
		return fmt.Errorf("%w: erase at 0x%x: %v", ErrIO, addr, err)
	}
	if rem := uint32(len(p)) % l.UnitSize; rem != 0 {
		p = append(append([]byte{}, p...), bytes.Repeat([]byte{Erased}, int(l.UnitSize-rem))...)
	}
	for off := uint32(0); off < uint32(len(p)); off += l.UnitSize {
		if err := dev.Write(addr+off, p[off:off+l.UnitSize]); err != nil {
			glog.Errorf("Flash write failed at offset %d: %v", off, err)
			return fmt.Errorf("%w: write at 0x%x: %v", ErrIO, addr+off, err)
		}
	}
	glog.V(2).Infof("Wrote %d bytes to sector at 0x%x", len(p), addr)
	return nil
}
