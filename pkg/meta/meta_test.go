package meta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canboot/canboot/pkg/flash"
)

func v(a, b, c byte) Version { return Version{a, b, c} }

func TestSelect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		a, b    Version
		want    Slot
		wantErr bool
	}{
		{"both invalid", InvalidVersion, InvalidVersion, 0, true},
		{"only A", v(1, 0, 0), InvalidVersion, SlotA, false},
		{"only B", InvalidVersion, v(0, 0, 1), SlotB, false},
		{"A newer", v(1, 2, 0), v(1, 1, 255), SlotA, false},
		{"B newer", v(1, 0, 0), v(2, 0, 0), SlotB, false},
		{"tie goes to B", v(3, 3, 3), v(3, 3, 3), SlotB, false},
		{"low byte decides", v(0, 0, 2), v(0, 0, 1), SlotA, false},
		{"major outweighs patch", v(1, 0, 0), v(0, 255, 255), SlotA, false},
		{"A zero is valid", v(0, 0, 0), InvalidVersion, SlotA, false},
		{"near sentinel is valid", v(255, 255, 254), v(255, 255, 253), SlotA, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var s State
			s.Slots[SlotA].Version = tt.a
			s.Slots[SlotB].Version = tt.b
			got, err := Select(s)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoValidSlot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectExhaustiveOrdering(t *testing.T) {
	t.Parallel()
	values := []uint32{0, 1, 0xff, 0x100, 0xffff, 0x10000, 0x7fffff, 0xfffffe}
	for _, x := range values {
		for _, y := range values {
			var s State
			s.Slots[SlotA].Version = Version{byte(x >> 16), byte(x >> 8), byte(x)}
			s.Slots[SlotB].Version = Version{byte(y >> 16), byte(y >> 8), byte(y)}
			got, err := Select(s)
			require.NoError(t, err)
			if x > y {
				assert.Equal(t, SlotA, got, "%x vs %x", x, y)
			} else {
				assert.Equal(t, SlotB, got, "%x vs %x", x, y)
			}
		}
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()
	got, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, v(1, 2, 3), got)
	assert.Equal(t, "1.2.3", got.String())
	assert.Equal(t, uint32(0x010203), got.Value())

	for _, bad := range []string{"", "1.2", "1.2.3.4", "256.0.0", "a.b.c", "255.255.255"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "invalid", InvalidVersion.String())
}

func TestParseSlot(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Slot{"a": SlotA, "A": SlotA, "0": SlotA, "b": SlotB, "1": SlotB} {
		got, err := ParseSlot(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSlot("c")
	assert.Error(t, err)
}

func TestRecordLayout(t *testing.T) {
	t.Parallel()
	var s State
	s.Slots[SlotA] = SlotMetadata{Digest: [32]byte{0: 0xaa, 31: 0xab}, Version: v(1, 0, 0), SectorCount: 2}
	s.Slots[SlotB] = SlotMetadata{Digest: [32]byte{0: 0xbb}, Version: InvalidVersion, SectorCount: 0x01020304}
	s.UpdateRequired = true

	data, err := s.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, RecordSize)

	assert.Equal(t, byte(0xaa), data[0])
	assert.Equal(t, byte(0xab), data[31])
	assert.Equal(t, byte(0xbb), data[32])
	assert.Equal(t, []byte{1, 0, 0, 0xff, 0xff, 0xff}, data[64:70])
	assert.Equal(t, []byte{2, 0, 0, 0}, data[72:76])
	assert.Equal(t, []byte{4, 3, 2, 1}, data[76:80])
	assert.Equal(t, byte(1), data[80])

	var back State
	require.NoError(t, back.UnmarshalBinary(data))
	assert.Equal(t, s, back)
}

func TestErasedRecord(t *testing.T) {
	t.Parallel()
	var s State
	require.NoError(t, s.UnmarshalBinary(bytes.Repeat([]byte{0xff}, RecordSize)))
	assert.True(t, s.UpdateRequired)
	assert.False(t, s.Slots[SlotA].Version.Valid())
	assert.False(t, s.Slots[SlotB].Version.Valid())
	_, err := Select(s)
	assert.ErrorIs(t, err, ErrNoValidSlot)

	assert.Error(t, s.UnmarshalBinary(make([]byte, 10)))
}

func TestStoreFlushLoad(t *testing.T) {
	t.Parallel()
	l := flash.DefaultLayout()
	m := flash.NewMemory(l)

	st := NewStore(m, l)
	require.NoError(t, st.Load())
	assert.True(t, st.State().UpdateRequired)

	st.SetSlot(SlotB, SlotMetadata{Digest: [32]byte{1, 2, 3}, Version: v(2, 0, 1), SectorCount: 5})
	st.SetUpdateRequired(false)
	// Nothing reaches flash before Flush.
	assert.Zero(t, m.Stats().Writes)

	require.NoError(t, st.Flush())
	first := m.Bytes(l.StorageAddr, l.SectorSize)

	other := NewStore(m, l)
	require.NoError(t, other.Load())
	assert.Equal(t, st.State(), other.State())
	assert.Equal(t, v(2, 0, 1), other.Slot(SlotB).Version)

	// Flushing identical content again yields identical flash contents.
	require.NoError(t, other.Flush())
	assert.Equal(t, first, m.Bytes(l.StorageAddr, l.SectorSize))
	assert.Equal(t, 2, m.Stats().Erases)
}

func TestStoreFlushFailure(t *testing.T) {
	t.Parallel()
	l := flash.DefaultLayout()
	m := flash.NewMemory(l)
	m.FailErase(l.StorageAddr)

	st := NewStore(m, l)
	require.NoError(t, st.Load())
	assert.ErrorIs(t, st.Flush(), flash.ErrIO)
}

func TestStoreUnloaded(t *testing.T) {
	t.Parallel()
	l := flash.DefaultLayout()
	m := flash.NewMemory(l)
	m.FailRead(l.StorageAddr)

	st := NewStore(m, l)
	assert.True(t, st.State().UpdateRequired)
	_, err := Select(st.State())
	assert.ErrorIs(t, err, ErrNoValidSlot)

	assert.ErrorIs(t, st.Load(), flash.ErrIO)
	assert.False(t, st.Loaded())
	st.SetSlot(SlotA, SlotMetadata{Version: v(1, 0, 0), SectorCount: 1})
	assert.ErrorIs(t, st.Flush(), ErrNotLoaded)
	assert.Zero(t, m.Stats().Erases)
	assert.Zero(t, m.Stats().Writes)

	m.ClearFaults()
	require.NoError(t, st.Load())
	assert.True(t, st.Loaded())
	require.NoError(t, st.Flush())
}

func TestDebug(t *testing.T) {
	t.Parallel()
	var s State
	s.Slots[SlotA].Version = v(1, 0, 0)
	s.Slots[SlotB].Version = InvalidVersion
	var buf strings.Builder
	s.Debug(&buf)
	assert.Contains(t, buf.String(), "version: 1.0.0")
	assert.Contains(t, buf.String(), "version: invalid")
}
