package meta

import (
	"fmt"
	"strconv"
	"strings"
)

// Slot identifies one of the two application slots.
type Slot uint8

const (
	SlotA Slot = 0
	SlotB Slot = 1
)

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	}
	return "UNKNOWN"
}

// Valid reports whether s names an existing slot.
func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

// ParseSlot accepts "A", "B" (any case) or the ordinals "0" and "1".
func ParseSlot(s string) (Slot, error) {
	switch strings.ToUpper(s) {
	case "A", "0":
		return SlotA, nil
	case "B", "1":
		return SlotB, nil
	}
	return 0, fmt.Errorf("invalid slot %q, must be A or B", s)
}

// Version is a three byte firmware version, ordered as a big-endian 24-bit
// unsigned integer. The all-ones value is what erased flash reads as and
// marks a slot without a valid image.
type Version [3]byte

// InvalidVersion is the erased-flash sentinel.
var InvalidVersion = Version{0xff, 0xff, 0xff}

// Value returns the version as a 24-bit integer.
func (v Version) Value() uint32 {
	return uint32(v[0])<<16 | uint32(v[1])<<8 | uint32(v[2])
}

// Valid is false for the erased sentinel.
func (v Version) Valid() bool {
	return v.Value() != 0xffffff
}

func (v Version) String() string {
	if !v.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// ParseVersion parses a dotted "major.minor.patch" triplet, each part 0-255.
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("version %q must have three parts", s)
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return v, fmt.Errorf("version %q: invalid part %q", s, p)
		}
		v[i] = byte(n)
	}
	if !v.Valid() {
		return v, fmt.Errorf("version %q is reserved for erased slots", s)
	}
	return v, nil
}
