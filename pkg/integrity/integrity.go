// Package integrity checks firmware images against their declared SHA-256
// digest. It provides integrity only: there is no key material, so an image
// that carries a matching digest for malicious content is accepted.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/golang/glog"

	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/meta"
)

// Digest is a SHA-256 digest.
type Digest = [meta.DigestSize]byte

// Equal compares two digests byte for byte.
func Equal(a, b Digest) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// SlotDigest hashes the first sectors sectors of slot with a fresh hash
// context, reading one sector at a time.
func SlotDigest(dev flash.Device, l flash.Layout, slot meta.Slot, sectors uint32) (Digest, error) {
	var out Digest
	if !slot.Valid() {
		return out, fmt.Errorf("%w: slot %d", flash.ErrInvalidArgument, slot)
	}
	if sectors > l.SectorsPerSlot() {
		return out, fmt.Errorf("%w: %d sectors do not fit in a slot of %d", flash.ErrInvalidArgument, sectors, l.SectorsPerSlot())
	}
	h := sha256.New()
	buf := make([]byte, l.SectorSize)
	for i := uint32(0); i < sectors; i++ {
		if err := flash.ReadData(dev, l, l.SectorAddr(int(slot), i), buf); err != nil {
			return out, fmt.Errorf("could not read sector %d of slot %s: %w", i, slot, err)
		}
		h.Write(buf)
	}
	copy(out[:], h.Sum(nil))
	glog.V(1).Infof("Slot %s digest over %d sectors: %x", slot, sectors, out)
	return out, nil
}

// VerifySlot reports whether the image in slot matches the digest stored in
// its metadata.
func VerifySlot(dev flash.Device, l flash.Layout, slot meta.Slot, md meta.SlotMetadata) (bool, error) {
	got, err := SlotDigest(dev, l, slot, md.SectorCount)
	if err != nil {
		return false, err
	}
	return Equal(got, md.Digest), nil
}
