package meta

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/canboot/canboot/pkg/flash"
)

// Store keeps the working copy of the bootloader state in memory and writes
// it back to the storage sector only when Flush is called. Mutations between
// flushes never touch flash.
type Store struct {
	dev    flash.Device
	layout flash.Layout
	state  State
	loaded bool
}

// ErrNotLoaded is returned by Flush before the persisted record was read.
// Writing then would replace the metadata of the slot not being updated.
var ErrNotLoaded = errors.New("state not loaded")

// NewStore returns a store over the storage sector of l. Until Load succeeds
// its state reads like an erased record and Flush refuses to write it.
func NewStore(dev flash.Device, l flash.Layout) *Store {
	s := &Store{dev: dev, layout: l}
	s.state.UpdateRequired = true
	for i := range s.state.Slots {
		s.state.Slots[i].Version = InvalidVersion
	}
	return s
}

// recordLen is the record size rounded up to whole program units.
func (s *Store) recordLen() uint32 {
	u := s.layout.UnitSize
	return (RecordSize + u - 1) / u * u
}

// Load reads the persisted record into memory.
func (s *Store) Load() error {
	buf := make([]byte, s.recordLen())
	if err := flash.ReadData(s.dev, s.layout, s.layout.StorageAddr, buf); err != nil {
		return fmt.Errorf("could not read state: %w", err)
	}
	var st State
	if err := st.UnmarshalBinary(buf); err != nil {
		return err
	}
	s.state = st
	s.loaded = true
	glog.V(1).Infof("Loaded state: versions %s/%s, update required %v", s.state.Slots[0].Version, s.state.Slots[1].Version, s.state.UpdateRequired)
	return nil
}

// Flush persists the in-memory state as a single record: one sector erase
// followed by the record write.
func (s *Store) Flush() error {
	if !s.loaded {
		return ErrNotLoaded
	}
	data, err := s.state.MarshalBinary()
	if err != nil {
		return err
	}
	if err := flash.WriteSector(s.dev, s.layout, s.layout.StorageAddr, data); err != nil {
		return fmt.Errorf("could not persist state: %w", err)
	}
	glog.Infof("Persisted state to 0x%x", s.layout.StorageAddr)
	return nil
}

// Loaded reports whether Load has succeeded.
func (s *Store) Loaded() bool {
	return s.loaded
}

// State returns a copy of the in-memory state.
func (s *Store) State() State {
	return s.state
}

// Slot returns the in-memory metadata of one slot.
func (s *Store) Slot(slot Slot) SlotMetadata {
	return s.state.Slots[slot]
}

// SetSlot replaces the in-memory metadata of one slot.
func (s *Store) SetSlot(slot Slot, md SlotMetadata) {
	s.state.Slots[slot] = md
}

// SetUpdateRequired sets the in-memory update flag.
func (s *Store) SetUpdateRequired(v bool) {
	s.state.UpdateRequired = v
}
