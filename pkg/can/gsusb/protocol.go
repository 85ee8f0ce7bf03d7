package gsusb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/canboot/canboot/pkg/can"
)

type request uint8

const (
	reqHostFormat request = 0
	reqBitTiming  request = 1
	reqMode       request = 2
	reqBerr       request = 3
	reqBTConst    request = 4
	reqDeviceConf request = 5
)

func (r request) String() string {
	switch r {
	case reqHostFormat:
		return "HOST_FORMAT"
	case reqBitTiming:
		return "BITTIMING"
	case reqMode:
		return "MODE"
	case reqBerr:
		return "BERR"
	case reqBTConst:
		return "BT_CONST"
	case reqDeviceConf:
		return "DEVICE_CONFIG"
	}
	return fmt.Sprintf("request(%d)", uint8(r))
}

const (
	// Vendor request to the interface, host to device and device to host.
	rTypeOut uint8 = 0x41
	rTypeIn  uint8 = 0xc1

	hostFormatMagic uint32 = 0x0000beef

	modeReset uint32 = 0
	modeStart uint32 = 1

	// echoRX marks host frames received from the bus, as opposed to echoes
	// of transmitted frames.
	echoRX uint32 = 0xffffffff

	flagEFF uint32 = 0x80000000
	flagRTR uint32 = 0x40000000
	flagERR uint32 = 0x20000000

	hostFrameSize = 20
)

// BTConst is the device's bit timing capability record.
type BTConst struct {
	Feature  uint32
	Fclk     uint32
	Tseg1Min uint32
	Tseg1Max uint32
	Tseg2Min uint32
	Tseg2Max uint32
	SjwMax   uint32
	BrpMin   uint32
	BrpMax   uint32
	BrpInc   uint32
}

// BitTiming is the payload of a BITTIMING request.
type BitTiming struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	Sjw       uint32
	Brp       uint32
}

// Bitrate is the bus speed t yields at clock fclk.
func (t BitTiming) Bitrate(fclk uint32) uint32 {
	tq := 1 + t.PropSeg + t.PhaseSeg1 + t.PhaseSeg2
	return fclk / (t.Brp * tq)
}

type deviceMode struct {
	Mode  uint32
	Flags uint32
}

var ErrNoTiming = errors.New("no bit timing for bitrate")

// ComputeBitTiming picks the smallest prescaler that divides the clock into
// a whole number of time quanta per bit, with the sample point close to
// 87.5%.
func ComputeBitTiming(c BTConst, bitrate uint32) (BitTiming, error) {
	if bitrate == 0 || c.Fclk == 0 {
		return BitTiming{}, fmt.Errorf("%w: %d bit/s at %d Hz", ErrNoTiming, bitrate, c.Fclk)
	}
	inc := c.BrpInc
	if inc == 0 {
		inc = 1
	}
	brp := c.BrpMin
	if brp == 0 {
		brp = inc
	}
	for ; brp <= c.BrpMax; brp += inc {
		if c.Fclk%(brp*bitrate) != 0 {
			continue
		}
		tq := c.Fclk / (brp * bitrate)
		if tq < 1+c.Tseg1Min+c.Tseg2Min || tq > 1+c.Tseg1Max+c.Tseg2Max {
			continue
		}
		tseg2 := (tq + 4) / 8
		if tseg2 < c.Tseg2Min {
			tseg2 = c.Tseg2Min
		}
		if tseg2 > c.Tseg2Max {
			tseg2 = c.Tseg2Max
		}
		tseg1 := tq - 1 - tseg2
		if tseg1 < c.Tseg1Min || tseg1 > c.Tseg1Max {
			continue
		}
		sjw := uint32(1)
		if c.SjwMax == 0 {
			sjw = 0
		}
		prop := tseg1 / 2
		return BitTiming{
			PropSeg:   prop,
			PhaseSeg1: tseg1 - prop,
			PhaseSeg2: tseg2,
			Sjw:       sjw,
			Brp:       brp,
		}, nil
	}
	return BitTiming{}, fmt.Errorf("%w: %d bit/s at %d Hz", ErrNoTiming, bitrate, c.Fclk)
}

// hostFrame is the USB representation of a CAN frame.
type hostFrame struct {
	EchoID   uint32
	CanID    uint32
	DLC      uint8
	Channel  uint8
	Flags    uint8
	Reserved uint8
	Data     [8]byte
}

func encodeFrame(f can.Frame, echo uint32) ([]byte, error) {
	if len(f.Data) > can.MaxDataLen {
		return nil, fmt.Errorf("frame data too long: %d bytes", len(f.Data))
	}
	hf := hostFrame{EchoID: echo, CanID: f.ID, DLC: uint8(len(f.Data))}
	if f.Extended {
		hf.CanID |= flagEFF
	}
	copy(hf.Data[:], f.Data)
	buf := bytes.NewBuffer(make([]byte, 0, hostFrameSize))
	if err := binary.Write(buf, binary.LittleEndian, &hf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrame parses a host frame. rx is false for echoes of frames this
// host transmitted; those and error frames carry no bus data.
func decodeFrame(b []byte) (f can.Frame, rx bool, err error) {
	if len(b) < hostFrameSize {
		return f, false, fmt.Errorf("short host frame: %d bytes", len(b))
	}
	var hf hostFrame
	if err := binary.Read(bytes.NewReader(b[:hostFrameSize]), binary.LittleEndian, &hf); err != nil {
		return f, false, err
	}
	if hf.EchoID != echoRX || hf.CanID&(flagERR|flagRTR) != 0 {
		return f, false, nil
	}
	if hf.DLC > can.MaxDataLen {
		return f, false, fmt.Errorf("host frame dlc %d", hf.DLC)
	}
	f.Extended = hf.CanID&flagEFF != 0
	if f.Extended {
		f.ID = hf.CanID &^ flagEFF
	} else {
		f.ID = hf.CanID & 0x7ff
	}
	f.Data = append([]byte{}, hf.Data[:hf.DLC]...)
	return f, true, nil
}

func marshal(v any) []byte {
	buf := bytes.NewBuffer(nil)
	// Only fixed-size structs and words are passed in.
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}
