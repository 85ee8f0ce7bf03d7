package flash

import "fmt"

// Layout describes the flash geometry of the target and where the bootloader
// keeps its application slots and persisted metadata. All addresses are
// offsets from the start of the flash device, not bus addresses.
type Layout struct {
	// SectorSize is the erase granularity.
	SectorSize uint32
	// UnitSize is the minimum program/read unit. Every flash access must be
	// aligned to it.
	UnitSize uint32
	// Slots holds the base offsets of application slots A and B.
	Slots [2]uint32
	// SlotSize is the size of each application slot.
	SlotSize uint32
	// StorageAddr is the sector holding the persisted metadata record.
	StorageAddr uint32
	// HeaderOffset is where the application vector table starts inside a
	// slot.
	HeaderOffset uint32
	// BaseAddress is the bus address the flash is mapped at.
	BaseAddress uint32
	// Size is the total size of the flash device.
	Size uint32
}

// DefaultLayout returns the geometry of the reference board (an STM32 part
// with 8KiB sectors and 128-bit flash words). Slot A ends where the storage
// sector begins.
func DefaultLayout() Layout {
	return Layout{
		SectorSize:   8192,
		UnitSize:     16,
		Slots:        [2]uint32{0x20000, 0x7c000},
		SlotSize:     0x1c000,
		StorageAddr:  0x3c000,
		HeaderOffset: 0x400,
		BaseAddress:  0x08000000,
		Size:         0xa0000,
	}
}

// SectorsPerSlot is the number of erase sectors that fit in one slot.
func (l Layout) SectorsPerSlot() uint32 {
	return l.SlotSize / l.SectorSize
}

// SectorAddr returns the offset of sector n of the given slot.
func (l Layout) SectorAddr(slot int, n uint32) uint32 {
	return l.Slots[slot] + n*l.SectorSize
}

// Validate checks that the layout is self-consistent: slots and the storage
// area are sector aligned, inside the device and do not overlap.
func (l Layout) Validate() error {
	if l.UnitSize == 0 || l.SectorSize == 0 {
		return fmt.Errorf("%w: zero unit or sector size", ErrInvalidArgument)
	}
	if l.SectorSize%l.UnitSize != 0 {
		return fmt.Errorf("%w: sector size %d not a multiple of unit size %d", ErrInvalidArgument, l.SectorSize, l.UnitSize)
	}
	if l.SlotSize%l.SectorSize != 0 {
		return fmt.Errorf("%w: slot size 0x%x not sector aligned", ErrInvalidArgument, l.SlotSize)
	}
	type region struct {
		name       string
		start, end uint32
	}
	regions := []region{
		{"slot A", l.Slots[0], l.Slots[0] + l.SlotSize},
		{"slot B", l.Slots[1], l.Slots[1] + l.SlotSize},
		{"storage", l.StorageAddr, l.StorageAddr + l.SectorSize},
	}
	for i, r := range regions {
		if r.start%l.SectorSize != 0 {
			return fmt.Errorf("%w: %s at 0x%x not sector aligned", ErrInvalidArgument, r.name, r.start)
		}
		if r.end > l.Size {
			return fmt.Errorf("%w: %s ends at 0x%x, past flash end 0x%x", ErrInvalidArgument, r.name, r.end, l.Size)
		}
		for _, o := range regions[i+1:] {
			if r.start < o.end && o.start < r.end {
				return fmt.Errorf("%w: %s overlaps %s", ErrInvalidArgument, r.name, o.name)
			}
		}
	}
	if l.HeaderOffset+8 > l.SlotSize {
		return fmt.Errorf("%w: header offset 0x%x outside slot", ErrInvalidArgument, l.HeaderOffset)
	}
	return nil
}
