package gsusb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canboot/canboot/pkg/can"
)

var candleLight = BTConst{
	Fclk:     48000000,
	Tseg1Min: 1,
	Tseg1Max: 16,
	Tseg2Min: 1,
	Tseg2Max: 8,
	SjwMax:   4,
	BrpMin:   1,
	BrpMax:   1024,
	BrpInc:   1,
}

func TestComputeBitTiming(t *testing.T) {
	t.Parallel()
	tests := []struct {
		bitrate uint32
		want    BitTiming
	}{
		{500000, BitTiming{PropSeg: 6, PhaseSeg1: 7, PhaseSeg2: 2, Sjw: 1, Brp: 6}},
		{125000, BitTiming{PropSeg: 6, PhaseSeg1: 7, PhaseSeg2: 2, Sjw: 1, Brp: 24}},
		{1000000, BitTiming{PropSeg: 6, PhaseSeg1: 7, PhaseSeg2: 2, Sjw: 1, Brp: 3}},
	}
	for _, tt := range tests {
		got, err := ComputeBitTiming(candleLight, tt.bitrate)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%d bit/s", tt.bitrate)
		assert.Equal(t, tt.bitrate, got.Bitrate(candleLight.Fclk))
	}

	_, err := ComputeBitTiming(candleLight, 0)
	assert.ErrorIs(t, err, ErrNoTiming)
	_, err = ComputeBitTiming(BTConst{Fclk: 7, Tseg1Max: 16, Tseg2Max: 8, BrpMax: 4}, 500000)
	assert.ErrorIs(t, err, ErrNoTiming)
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()
	b, err := encodeFrame(can.Frame{ID: 0x104, Data: []byte{1, 2, 3}}, 7)
	require.NoError(t, err)
	require.Len(t, b, hostFrameSize)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(0x104), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, byte(3), b[8])
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, b[12:])

	b, err = encodeFrame(can.Frame{ID: 0x1abcdef, Extended: true}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x81abcdef), binary.LittleEndian.Uint32(b[4:]))

	_, err = encodeFrame(can.Frame{Data: make([]byte, 9)}, 0)
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()
	raw, err := encodeFrame(can.Frame{ID: 0x10c, Data: []byte{0}}, echoRX)
	require.NoError(t, err)
	f, rx, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.True(t, rx)
	assert.Equal(t, can.Frame{ID: 0x10c, Data: []byte{0}}, f)

	// Hardware timestamps follow the frame on some firmware.
	raw, err = encodeFrame(can.Frame{ID: 0x12345, Extended: true, Data: []byte{9, 8}}, echoRX)
	require.NoError(t, err)
	f, rx, err = decodeFrame(append(raw, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.True(t, rx)
	assert.Equal(t, can.Frame{ID: 0x12345, Extended: true, Data: []byte{9, 8}}, f)

	echo, err := encodeFrame(can.Frame{ID: 0x100}, 3)
	require.NoError(t, err)
	_, rx, err = decodeFrame(echo)
	require.NoError(t, err)
	assert.False(t, rx)

	errFrame, err := encodeFrame(can.Frame{ID: flagERR | 0x4}, echoRX)
	require.NoError(t, err)
	_, rx, err = decodeFrame(errFrame)
	require.NoError(t, err)
	assert.False(t, rx)

	_, _, err = decodeFrame(raw[:10])
	assert.Error(t, err)
}

func TestMarshal(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []byte{0xef, 0xbe, 0, 0}, marshal(hostFormatMagic))
	assert.Len(t, marshal(&BitTiming{}), 20)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, marshal(&deviceMode{Mode: modeStart}))
	assert.Equal(t, 40, binary.Size(BTConst{}))
}

func TestDescriptions(t *testing.T) {
	t.Parallel()
	seen := map[[2]uint16]bool{}
	for _, d := range Descriptions {
		key := [2]uint16{uint16(d.VID), uint16(d.PID)}
		assert.False(t, seen[key], "duplicate %s", d.Kind)
		seen[key] = true
		assert.NotEqual(t, "UNKNOWN", d.Kind.String())
	}
}
