package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canboot/canboot/pkg/can"
	"github.com/canboot/canboot/pkg/sender"
)

func TestFlashPacingFlags(t *testing.T) {
	setupCommands()
	bus, _ := can.NewLoopback(1)
	defer bus.Close()

	cfg := sender.New(bus, flashOptions()...).Config()
	assert.Equal(t, 100*time.Millisecond, cfg.HashGap)
	assert.Equal(t, 10*time.Millisecond, cfg.FrameGap)
	assert.Equal(t, 8*time.Second, cfg.SettleDelay)

	require.NoError(t, flashCmd.ParseFlags([]string{"--hash-gap=250ms", "--frame-gap=2ms", "--settle=1s"}))
	cfg = sender.New(bus, flashOptions()...).Config()
	assert.Equal(t, 250*time.Millisecond, cfg.HashGap)
	assert.Equal(t, 2*time.Millisecond, cfg.FrameGap)
	assert.Equal(t, time.Second, cfg.SettleDelay)
}
