package meta

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// DigestSize is the size of a SHA-256 digest.
const DigestSize = 32

// SlotMetadata is what the bootloader knows about the image in one slot.
type SlotMetadata struct {
	Digest      [DigestSize]byte
	Version     Version
	SectorCount uint32
}

// State is the bootloader's durable state, kept in the flash storage sector.
type State struct {
	Slots          [2]SlotMetadata
	UpdateRequired bool
}

// record is the on-flash layout of State, packed as a C compiler lays out
// the device's structure: digests, versions, two bytes of alignment padding,
// word sized sector counts and a one byte flag padded to a word.
type record struct {
	Digests        [2][DigestSize]byte
	Versions       [2][3]byte
	Pad1           [2]byte
	SectorCounts   [2]uint32
	UpdateRequired uint8
	Pad2           [3]byte
}

// RecordSize is the size of the serialized State.
const RecordSize = 84

// MarshalBinary serializes the state to its persisted record.
func (s *State) MarshalBinary() ([]byte, error) {
	r := record{
		Pad1: [2]byte{0xff, 0xff},
		Pad2: [3]byte{0xff, 0xff, 0xff},
	}
	for i, sl := range s.Slots {
		r.Digests[i] = sl.Digest
		r.Versions[i] = sl.Version
		r.SectorCounts[i] = sl.SectorCount
	}
	if s.UpdateRequired {
		r.UpdateRequired = 1
	}
	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.LittleEndian, &r); err != nil {
		return nil, fmt.Errorf("could not serialize state: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary parses a persisted record. Any nonzero flag byte counts as
// set, so a never-written (erased) record reads as "update required" with
// both versions invalid.
func (s *State) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("state record is %d bytes, want %d", len(data), RecordSize)
	}
	var r record
	if err := binary.Read(bytes.NewReader(data[:RecordSize]), binary.LittleEndian, &r); err != nil {
		return fmt.Errorf("failed to read state record: %w", err)
	}
	for i := range s.Slots {
		s.Slots[i] = SlotMetadata{
			Digest:      r.Digests[i],
			Version:     r.Versions[i],
			SectorCount: r.SectorCounts[i],
		}
	}
	s.UpdateRequired = r.UpdateRequired != 0
	return nil
}

// Debug writes a human readable dump of the state.
func (s *State) Debug(w io.Writer) {
	fmt.Fprintf(w, "  update required: %v\n", s.UpdateRequired)
	for i, sl := range s.Slots {
		fmt.Fprintf(w, "  slot %s:\n", Slot(i))
		fmt.Fprintf(w, "          version: %s\n", sl.Version)
		fmt.Fprintf(w, "          sectors: %d\n", sl.SectorCount)
		fmt.Fprintf(w, "           digest: %s\n", hex.EncodeToString(sl.Digest[:]))
	}
}
