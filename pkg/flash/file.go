package flash

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/golang/glog"
)

// DefaultPath is where the simulator keeps its flash image unless told
// otherwise.
func DefaultPath() string {
	return path.Join(xdg.DataHome, "canboot", "flash.bin")
}

// File is a flash device backed by a regular file, used to run the
// bootloader on a host. The file holds the raw device contents.
type File struct {
	f      *os.File
	layout Layout
}

// OpenFile opens the flash image at p, creating an erased one sized to the
// layout if it does not exist yet.
func OpenFile(p string, l Layout) (*File, error) {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		glog.Infof("Creating erased flash image at %s", p)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("could not create flash image directory: %w", err)
		}
		if err := os.WriteFile(p, bytes.Repeat([]byte{Erased}, int(l.Size)), 0644); err != nil {
			return nil, fmt.Errorf("could not create flash image: %w", err)
		}
	}
	f, err := os.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open flash image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not stat flash image: %w", err)
	}
	if st.Size() != int64(l.Size) {
		f.Close()
		return nil, fmt.Errorf("flash image is %d bytes, layout wants %d", st.Size(), l.Size)
	}
	return &File{f: f, layout: l}, nil
}

func (d *File) Read(addr uint32, p []byte) error {
	if addr%d.layout.UnitSize != 0 {
		return fmt.Errorf("%w: read at 0x%x", ErrInvalidArgument, addr)
	}
	_, err := d.f.ReadAt(p, int64(addr))
	return err
}

func (d *File) Erase(addr uint32, size uint32) error {
	if addr%d.layout.SectorSize != 0 || size%d.layout.SectorSize != 0 {
		return fmt.Errorf("%w: erase 0x%x+%d", ErrInvalidArgument, addr, size)
	}
	_, err := d.f.WriteAt(bytes.Repeat([]byte{Erased}, int(size)), int64(addr))
	return err
}

func (d *File) Write(addr uint32, p []byte) error {
	if addr%d.layout.UnitSize != 0 || uint32(len(p))%d.layout.UnitSize != 0 {
		return fmt.Errorf("%w: write 0x%x+%d", ErrInvalidArgument, addr, len(p))
	}
	_, err := d.f.WriteAt(p, int64(addr))
	return err
}

// Close flushes and closes the backing file.
func (d *File) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
