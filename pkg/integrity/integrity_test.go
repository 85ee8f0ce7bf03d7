package integrity

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/meta"
)

func TestVerifySlot(t *testing.T) {
	t.Parallel()
	l := flash.DefaultLayout()
	m := flash.NewMemory(l)

	img := make([]byte, 2*l.SectorSize)
	for i := range img {
		img[i] = byte(i >> 3)
	}
	m.Poke(l.Slots[0], img)

	md := meta.SlotMetadata{Digest: sha256.Sum256(img), Version: meta.Version{1, 0, 0}, SectorCount: 2}
	ok, err := VerifySlot(m, l, meta.SlotA, md)
	require.NoError(t, err)
	assert.True(t, ok)

	m.Poke(l.Slots[0]+l.SectorSize+5, []byte{0x42})
	ok, err = VerifySlot(m, l, meta.SlotA, md)
	require.NoError(t, err)
	assert.False(t, ok)

	// Only the declared sectors are covered.
	md.SectorCount = 1
	md.Digest = sha256.Sum256(img[:l.SectorSize])
	ok, err = VerifySlot(m, l, meta.SlotA, md)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlotDigestBounds(t *testing.T) {
	t.Parallel()
	l := flash.DefaultLayout()
	m := flash.NewMemory(l)

	_, err := SlotDigest(m, l, meta.SlotB, 0xffffffff)
	assert.ErrorIs(t, err, flash.ErrInvalidArgument)
	_, err = SlotDigest(m, l, meta.Slot(7), 1)
	assert.ErrorIs(t, err, flash.ErrInvalidArgument)

	m.FailRead(l.Slots[1])
	_, err = SlotDigest(m, l, meta.SlotB, 1)
	assert.ErrorIs(t, err, flash.ErrIO)

	d, err := SlotDigest(m, l, meta.SlotA, 0)
	require.NoError(t, err)
	assert.Equal(t, Digest(sha256.Sum256(nil)), d)
}

func TestEqual(t *testing.T) {
	t.Parallel()
	a := Digest{1, 2, 3}
	b := a
	assert.True(t, Equal(a, b))
	b[31] ^= 1
	assert.False(t, Equal(a, b))
}
