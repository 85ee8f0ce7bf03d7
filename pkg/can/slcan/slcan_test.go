package slcan

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/canboot/canboot/internal/syncutil"
	"github.com/canboot/canboot/pkg/can"
)

// fakePort behaves like a serial port with a short read timeout: Read
// returns what was fed, or nothing after a brief pause.
type fakePort struct {
	mu      syncutil.Mutex
	rx      []byte
	tx      bytes.Buffer
	closed  bool
	readErr error
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, s...)
}

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.String()
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.rx) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer p.mu.Unlock()
	// Deliver in small pieces to exercise reassembly.
	n := copy(b[:min(len(b), 5)], p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestOpenSequence(t *testing.T) {
	t.Parallel()
	p := &fakePort{}
	b, err := New(p, 500000)
	require.NoError(t, err)
	assert.Equal(t, "C\rS6\rO\r", p.written())

	require.NoError(t, b.Close())
	assert.Equal(t, "C\rS6\rO\rC\r", p.written())
	assert.True(t, p.closed)

	_, err = New(&fakePort{}, 33333)
	assert.Error(t, err)
}

func TestBitrates(t *testing.T) {
	t.Parallel()
	got := Bitrates()
	slices.Sort(got)
	assert.Equal(t, []int{10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000}, got)
}

func TestEncode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    can.Frame
		want string
	}{
		{can.Frame{ID: 0x104, Data: []byte{0xde, 0xad, 0xbe, 0xef, 0, 1, 2, 3}}, "t1048DEADBEEF00010203"},
		{can.Frame{ID: 0x108, Data: []byte{0}}, "t108100"},
		{can.Frame{ID: 0x7ff}, "t7FF0"},
		{can.Frame{ID: 0x12345678, Extended: true, Data: []byte{0xaa}}, "T123456781AA"},
	}
	for _, tt := range tests {
		got, err := Encode(tt.f)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Encode(can.Frame{ID: 0x800})
	assert.Error(t, err)
	_, err = Encode(can.Frame{ID: 1, Data: make([]byte, 9)})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Parallel()
	f, err := Decode([]byte("t1048DEADBEEF00010203"))
	require.NoError(t, err)
	assert.Equal(t, can.Frame{ID: 0x104, Data: []byte{0xde, 0xad, 0xbe, 0xef, 0, 1, 2, 3}}, f)

	f, err = Decode([]byte("T1FFFFFFF2abcd"))
	require.NoError(t, err)
	assert.Equal(t, can.Frame{ID: 0x1fffffff, Extended: true, Data: []byte{0xab, 0xcd}}, f)

	// Timestamped.
	f, err = Decode([]byte("t10C1001A2B"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, f.Data)

	for _, bad := range []string{"", "x", "t10", "t1049AA", "t1042A", "t1041ZZ", "tXYZ0"} {
		_, err := Decode([]byte(bad))
		assert.ErrorIs(t, err, ErrBadLine, bad)
	}
}

func TestReadFrame(t *testing.T) {
	t.Parallel()
	p := &fakePort{}
	b, err := New(p, 125000)
	require.NoError(t, err)

	// Acks, an error bell, a transmit ack and garbage precede the frames.
	p.feed("\r\r\r\az\rgarbage\rt1000\rt10421122\r")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := b.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x100), f.ID)
	assert.Empty(t, f.Data)

	f, err = b.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, can.Frame{ID: 0x104, Data: []byte{0x11, 0x22}}, f)
}

func TestReadFrameContext(t *testing.T) {
	t.Parallel()
	b, err := New(&fakePort{}, 125000)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadFrameError(t *testing.T) {
	t.Parallel()
	gone := errors.New("device removed")
	p := &fakePort{readErr: gone}
	b, err := New(p, 125000)
	require.NoError(t, err)
	_, err = b.ReadFrame(context.Background())
	assert.ErrorIs(t, err, gone)
}

func TestWriteFrame(t *testing.T) {
	t.Parallel()
	p := &fakePort{}
	b, err := New(p, 1000000)
	require.NoError(t, err)
	require.NoError(t, b.WriteFrame(can.Frame{ID: 0x10c, Data: []byte{0}}))
	assert.Equal(t, "C\rS8\rO\rt10C100\r", p.written())
}

var _ can.Bus = (*Bus)(nil)
