// Package frame turns raw CAN traffic into the typed frames the DFU session
// consumes, and provides the bounded queue between the receive path and the
// session.
package frame

import (
	"fmt"

	"github.com/canboot/canboot/pkg/can"
)

// PacketType is the protocol meaning of a frame, derived from its CAN
// identifier.
type PacketType uint8

const (
	HashData PacketType = iota
	FlashData
	FlashUpdateCmd
	CheckHashCmd
	JumpToApp
)

const (
	// BaseID is the identifier of the first packet type.
	BaseID uint32 = 0x100
	// IDStride is the identifier distance between packet types.
	IDStride uint32 = 4
	// PayloadSize is the size of every frame payload.
	PayloadSize = 8

	numTypes = uint32(JumpToApp) + 1
)

func (p PacketType) String() string {
	switch p {
	case HashData:
		return "HashData"
	case FlashData:
		return "FlashData"
	case FlashUpdateCmd:
		return "FlashUpdateCmd"
	case CheckHashCmd:
		return "CheckHashCmd"
	case JumpToApp:
		return "JumpToApp"
	}
	return fmt.Sprintf("PacketType(%d)", uint8(p))
}

// ID returns the CAN identifier a sender uses for packet type p.
func ID(p PacketType) uint32 {
	return BaseID + uint32(p)*IDStride
}

// Classify maps a CAN identifier to a packet type. The offset from BaseID is
// divided by IDStride, so identifiers between two type identifiers map to the
// lower one. Identifiers below BaseID or past the last type are rejected.
func Classify(id uint32) (PacketType, bool) {
	if id < BaseID {
		return 0, false
	}
	ord := (id - BaseID) / IDStride
	if ord >= numTypes {
		return 0, false
	}
	return PacketType(ord), true
}

// Frame is a classified protocol frame.
type Frame struct {
	Type    PacketType
	Payload [PayloadSize]byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%s[% X]", f.Type, f.Payload[:])
}

// FromCAN classifies a raw CAN frame. Payloads shorter than PayloadSize are
// zero padded, which is how command frames carrying a single byte arrive.
func FromCAN(cf can.Frame) (Frame, bool) {
	if cf.Extended {
		return Frame{}, false
	}
	t, ok := Classify(cf.ID)
	if !ok {
		return Frame{}, false
	}
	f := Frame{Type: t}
	copy(f.Payload[:], cf.Data)
	return f, true
}

// ToCAN builds the raw CAN frame a sender puts on the bus for f.
func (f Frame) ToCAN() can.Frame {
	return can.Frame{ID: ID(f.Type), Data: append([]byte{}, f.Payload[:]...)}
}
