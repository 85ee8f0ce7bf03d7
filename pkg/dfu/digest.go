package dfu

import (
	"github.com/canboot/canboot/pkg/frame"
	"github.com/canboot/canboot/pkg/meta"
)

// hashFrames is the number of HashData frames carrying the digest itself.
const hashFrames = meta.DigestSize / frame.PayloadSize

// digestBuilder assembles the expected digest from four HashData frames and
// decodes the metadata frame that follows them.
type digestBuilder struct {
	digest [meta.DigestSize]byte
	fill   int
}

// metadataFrame is the decoded fifth HashData frame.
type metadataFrame struct {
	slot    byte
	sectors byte
	version meta.Version
}

// feed consumes one HashData payload. Once the digest is full, the next
// payload is decoded as the metadata frame, the cursor rewinds and complete
// is true.
func (d *digestBuilder) feed(p [frame.PayloadSize]byte) (md metadataFrame, complete bool) {
	if d.fill < meta.DigestSize {
		copy(d.digest[d.fill:], p[:])
		d.fill += frame.PayloadSize
		return md, false
	}
	md = metadataFrame{
		slot:    p[0],
		sectors: p[1],
		version: meta.Version{p[2], p[3], p[4]},
	}
	d.fill = 0
	return md, true
}
