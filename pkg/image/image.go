// Package image prepares application images for transfer to the bootloader:
// padding to whole sectors, computing the digest the device will check, and
// producing the frame sequence of one update.
package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/ulikunitz/xz"

	"github.com/canboot/canboot/pkg/boot"
	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/frame"
	"github.com/canboot/canboot/pkg/meta"
)

var (
	ErrEmpty    = errors.New("image is empty")
	ErrTooLarge = errors.New("image does not fit in a slot")
)

// Load reads an image file. Files ending in .xz are decompressed.
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open image: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("could not open xz stream: %w", err)
		}
		r = xr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read image: %w", err)
	}
	glog.V(1).Infof("Loaded %d bytes from %s", len(data), path)
	return data, nil
}

// Image is an application image padded to whole sectors.
type Image struct {
	layout flash.Layout
	data   []byte
	size   int
}

// New pads data with the erased pattern up to a whole number of sectors and
// checks that the result fits in one slot.
func New(data []byte, l flash.Layout) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	sectors := (len(data) + int(l.SectorSize) - 1) / int(l.SectorSize)
	if sectors > int(l.SectorsPerSlot()) || sectors > 0xff {
		return nil, fmt.Errorf("%w: %d sectors, slot holds %d", ErrTooLarge, sectors, l.SectorsPerSlot())
	}
	padded := make([]byte, sectors*int(l.SectorSize))
	copy(padded, data)
	copy(padded[len(data):], bytes.Repeat([]byte{flash.Erased}, len(padded)-len(data)))
	return &Image{layout: l, data: padded, size: len(data)}, nil
}

// Bytes returns the padded image.
func (i *Image) Bytes() []byte {
	return i.data
}

// Size is the length of the image before padding.
func (i *Image) Size() int {
	return i.size
}

// Sectors is the number of sectors the image occupies.
func (i *Image) Sectors() int {
	return len(i.data) / int(i.layout.SectorSize)
}

// Digest is the SHA-256 of the padded image, as computed by the device over
// the sectors it writes.
func (i *Image) Digest() [meta.DigestSize]byte {
	return sha256.Sum256(i.data)
}

// DigestChunks splits the digest into the payloads of the HashData frames
// that carry it.
func (i *Image) DigestChunks() [][frame.PayloadSize]byte {
	d := i.Digest()
	out := make([][frame.PayloadSize]byte, meta.DigestSize/frame.PayloadSize)
	for n := range out {
		copy(out[n][:], d[n*frame.PayloadSize:])
	}
	return out
}

// Header decodes the vector table at the layout's header offset.
func (i *Image) Header() boot.Header {
	off := i.layout.HeaderOffset
	if int(off)+8 > len(i.data) {
		return boot.Header{StackPointer: 0xffffffff, ResetVector: 0xffffffff}
	}
	return boot.Header{
		StackPointer: binary.LittleEndian.Uint32(i.data[off:]),
		ResetVector:  binary.LittleEndian.Uint32(i.data[off+4:]),
	}
}

// Frames returns the complete update sequence for slot: the digest, the
// metadata frame, each sector's data followed by a commit command, and the
// final check command.
func (i *Image) Frames(slot meta.Slot, v meta.Version) []frame.Frame {
	perSector := int(i.layout.SectorSize) / frame.PayloadSize
	out := make([]frame.Frame, 0, 5+i.Sectors()*(perSector+1)+1)
	for _, c := range i.DigestChunks() {
		out = append(out, frame.Frame{Type: frame.HashData, Payload: c})
	}
	out = append(out, frame.Frame{
		Type:    frame.HashData,
		Payload: [frame.PayloadSize]byte{byte(slot), byte(i.Sectors()), v[0], v[1], v[2]},
	})
	for s := 0; s < i.Sectors(); s++ {
		sector := i.data[s*int(i.layout.SectorSize) : (s+1)*int(i.layout.SectorSize)]
		for off := 0; off < len(sector); off += frame.PayloadSize {
			f := frame.Frame{Type: frame.FlashData}
			copy(f.Payload[:], sector[off:])
			out = append(out, f)
		}
		out = append(out, frame.Frame{Type: frame.FlashUpdateCmd})
	}
	return append(out, frame.Frame{Type: frame.CheckHashCmd})
}

// Debug prints a summary of the image.
func (i *Image) Debug(w io.Writer) {
	h := i.Header()
	fmt.Fprintf(w, "Image:\n")
	fmt.Fprintf(w, "        Size: %d bytes (%d padded, %d sectors)\n", i.size, len(i.data), i.Sectors())
	fmt.Fprintf(w, "      Digest: %x\n", i.Digest())
	for n, c := range i.DigestChunks() {
		fmt.Fprintf(w, "     Chunk %d: %x\n", n, c)
	}
	fmt.Fprintf(w, "Stack pointer: 0x%08x\n", h.StackPointer)
	fmt.Fprintf(w, " Reset vector: 0x%08x\n", h.ResetVector)
}
