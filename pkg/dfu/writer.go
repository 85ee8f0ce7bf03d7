package dfu

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/golang/glog"

	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/meta"
)

// Writer commits staged sectors to consecutive sectors of a slot and feeds
// everything it writes into the session's rolling content hash. The hash
// context lives as long as the Writer; it is never reset between sectors or
// slots and is finalized exactly once.
type Writer struct {
	dev    flash.Device
	layout flash.Layout

	hash   hash.Hash
	sum    *[meta.DigestSize]byte
	slot   meta.Slot
	sector uint32
	total  uint32
}

// NewWriter returns a writer with a fresh hash context.
func NewWriter(dev flash.Device, l flash.Layout) *Writer {
	return &Writer{dev: dev, layout: l, hash: sha256.New()}
}

// Begin targets slot and expects sectors sectors. The sector counter restarts
// at zero; the content hash does not.
func (w *Writer) Begin(slot meta.Slot, sectors uint32) {
	w.slot = slot
	w.total = sectors
	w.sector = 0
}

// Commit erases the next sector of the target slot, writes data into it and
// folds data into the content hash. It reports whether the declared number
// of sectors has now been written. On I/O failure nothing is hashed and the
// sector counter does not advance.
func (w *Writer) Commit(data []byte) (done bool, err error) {
	if w.sum != nil {
		return false, fmt.Errorf("%w: content hash already finalized", ErrInvalidState)
	}
	if w.sector >= w.layout.SectorsPerSlot() {
		return false, fmt.Errorf("%w: sector %d past end of slot %s", flash.ErrInvalidArgument, w.sector, w.slot)
	}
	addr := w.layout.SectorAddr(int(w.slot), w.sector)
	glog.Infof("Writing to flash sector %d of slot %s (0x%x)", w.sector, w.slot, addr)
	if err := flash.WriteSector(w.dev, w.layout, addr, data); err != nil {
		return false, err
	}
	w.hash.Write(data)
	w.sector++
	return w.sector == w.total, nil
}

// Committed is the number of sectors written since Begin.
func (w *Writer) Committed() uint32 {
	return w.sector
}

// Sum finalizes the content hash on first use and returns the same digest
// on every later call.
func (w *Writer) Sum() [meta.DigestSize]byte {
	if w.sum == nil {
		var d [meta.DigestSize]byte
		copy(d[:], w.hash.Sum(nil))
		w.sum = &d
	}
	return *w.sum
}
