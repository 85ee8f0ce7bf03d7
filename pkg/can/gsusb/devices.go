package gsusb

import (
	"github.com/google/gousb"
)

// Kind names a family of gs_usb compatible adapters.
type Kind string

const (
	CandleLight Kind = "candlelight"
	GsUsb       Kind = "gs_usb"
	CESCANextFD Kind = "canext-fd"
	ABECANdebug Kind = "candebugger-fd"
)

func (k Kind) String() string {
	switch k {
	case CandleLight:
		return "candleLight"
	case GsUsb:
		return "Geschwister Schneider USB/CAN"
	case CESCANextFD:
		return "CES CANext FD"
	case ABECANdebug:
		return "ABE CANdebugger FD"
	}
	return "UNKNOWN"
}

// Description identifies one adapter model on the USB bus.
type Description struct {
	VID, PID gousb.ID
	Kind     Kind
}

// Descriptions lists the adapters Open probes, in order.
var Descriptions = []Description{
	{
		VID:  0x1d50,
		PID:  0x606f,
		Kind: GsUsb,
	},
	{
		VID:  0x1209,
		PID:  0x2323,
		Kind: CandleLight,
	},
	{
		VID:  0x1cd2,
		PID:  0x606f,
		Kind: CESCANextFD,
	},
	{
		VID:  0x16d0,
		PID:  0x10b8,
		Kind: ABECANdebug,
	},
}
