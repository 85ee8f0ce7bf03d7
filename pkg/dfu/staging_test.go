package dfu

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingFillsExactly(t *testing.T) {
	t.Parallel()
	for _, size := range []int{8, 64, 8192} {
		s := NewStaging(size)
		payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		for i := 0; i < size/8-1; i++ {
			full, err := s.Append(payload)
			require.NoError(t, err)
			require.False(t, full, "full after %d of %d frames", i+1, size/8)
		}
		full, err := s.Append(payload)
		require.NoError(t, err)
		assert.True(t, full)
		assert.Equal(t, size, s.Len())

		full, err = s.Append(payload)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.True(t, full)
		assert.Equal(t, size, s.Len())
	}
}

func TestStagingReset(t *testing.T) {
	t.Parallel()
	s := NewStaging(16)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 16), s.Bytes())
	_, err := s.Append([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	s.Reset()
	assert.Zero(t, s.Len())
	assert.False(t, s.Full())
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 16), s.Bytes())
	assert.Equal(t, 16, s.Cap())
}

func TestDigestBuilder(t *testing.T) {
	t.Parallel()
	var d digestBuilder
	for i := 0; i < hashFrames; i++ {
		var p [8]byte
		for j := range p {
			p[j] = byte(i*8 + j)
		}
		_, complete := d.feed(p)
		require.False(t, complete)
	}
	md, complete := d.feed([8]byte{1, 3, 2, 0, 7, 0xee, 0xee, 0xee})
	require.True(t, complete)
	assert.Equal(t, byte(1), md.slot)
	assert.Equal(t, byte(3), md.sectors)
	assert.Equal(t, "2.0.7", md.version.String())
	assert.Zero(t, d.fill)
	for i := range d.digest {
		assert.Equal(t, byte(i), d.digest[i])
	}
}
