package flash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/canboot/canboot/internal/syncutil"
)

// ErrInjected is the failure returned by Memory when a fault was armed with
// FailRead, FailErase or FailWrite.
var ErrInjected = errors.New("injected fault")

// Stats counts the primitive operations a Memory device has served.
type Stats struct {
	Reads, Erases, Writes int
}

// Memory is an in-RAM flash device. It behaves like NOR flash: erase sets a
// whole sector to 0xff and programming can only clear bits, so writing a unit
// that was not erased first is reported as an error.
type Memory struct {
	mu     syncutil.Mutex
	layout Layout
	data   []byte
	stats  Stats

	failRead, failErase, failWrite map[uint32]bool
}

// NewMemory returns an erased in-memory device sized according to l.
func NewMemory(l Layout) *Memory {
	return &Memory{
		layout:    l,
		data:      bytes.Repeat([]byte{Erased}, int(l.Size)),
		failRead:  make(map[uint32]bool),
		failErase: make(map[uint32]bool),
		failWrite: make(map[uint32]bool),
	}
}

func (m *Memory) check(addr, size, align uint32) error {
	if addr%align != 0 || size%align != 0 {
		return fmt.Errorf("%w: 0x%x+%d not aligned to %d", ErrInvalidArgument, addr, size, align)
	}
	if uint64(addr)+uint64(size) > uint64(len(m.data)) {
		return fmt.Errorf("%w: 0x%x+%d past end of device", ErrInvalidArgument, addr, size)
	}
	return nil
}

func (m *Memory) Read(addr uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, uint32(len(p)), m.layout.UnitSize); err != nil {
		return err
	}
	if m.failRead[addr] {
		return ErrInjected
	}
	m.stats.Reads++
	copy(p, m.data[addr:])
	return nil
}

func (m *Memory) Erase(addr uint32, size uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, size, m.layout.SectorSize); err != nil {
		return err
	}
	if m.failErase[addr] {
		return ErrInjected
	}
	m.stats.Erases++
	for i := addr; i < addr+size; i++ {
		m.data[i] = Erased
	}
	return nil
}

func (m *Memory) Write(addr uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr, uint32(len(p)), m.layout.UnitSize); err != nil {
		return err
	}
	if m.failWrite[addr] {
		return ErrInjected
	}
	for i := range p {
		if m.data[addr+uint32(i)] != Erased {
			return fmt.Errorf("write to non-erased unit at 0x%x", addr+uint32(i))
		}
	}
	m.stats.Writes++
	copy(m.data[addr:], p)
	return nil
}

// FailRead makes the next and all following reads of the unit at addr fail.
func (m *Memory) FailRead(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead[addr] = true
}

// FailErase makes erases of the sector at addr fail.
func (m *Memory) FailErase(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErase[addr] = true
}

// FailWrite makes programming the unit at addr fail.
func (m *Memory) FailWrite(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite[addr] = true
}

// ClearFaults disarms every injected fault.
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead = make(map[uint32]bool)
	m.failErase = make(map[uint32]bool)
	m.failWrite = make(map[uint32]bool)
}

// Stats returns the operation counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Bytes returns a copy of size bytes of raw flash contents at addr, bypassing
// alignment checks and counters.
func (m *Memory) Bytes(addr, size uint32) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte{}, m.data[addr:addr+size]...)
}

// Poke overwrites raw flash contents, bypassing erase semantics. It is meant
// for staging device state in tests.
func (m *Memory) Poke(addr uint32, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[addr:], p)
}
