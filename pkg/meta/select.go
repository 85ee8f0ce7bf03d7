package meta

import "errors"

// ErrNoValidSlot is returned by Select when neither slot holds a valid
// version.
var ErrNoValidSlot = errors.New("no valid slot")

// Select picks the slot to boot from. A slot whose version is the erased
// sentinel is never picked. With two valid slots the strictly greater version
// wins and a tie goes to slot B.
func Select(s State) (Slot, error) {
	a, b := s.Slots[SlotA].Version, s.Slots[SlotB].Version
	switch {
	case a.Valid() && !b.Valid():
		return SlotA, nil
	case !a.Valid() && b.Valid():
		return SlotB, nil
	case !a.Valid() && !b.Valid():
		return 0, ErrNoValidSlot
	}
	if a.Value() > b.Value() {
		return SlotA, nil
	}
	return SlotB, nil
}
