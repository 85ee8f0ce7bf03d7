package sender

import "time"

// Config holds the sender pacing and reporting configuration.
type Config struct {
	// HashGap is the pause after each HashData frame.
	HashGap time.Duration
	// FrameGap is the pause after each FlashData frame.
	FrameGap time.Duration
	// SettleDelay is the pause after each sector commit command, covering
	// the device's sector erase and program time.
	SettleDelay time.Duration
	// ProgressCallback, if set, is called after every sector commit and
	// once the check command was sent.
	ProgressCallback ProgressCallback
}

func defaultConfig() Config {
	return Config{
		HashGap:     100 * time.Millisecond,
		FrameGap:    10 * time.Millisecond,
		SettleDelay: 8 * time.Second,
	}
}

// Option configures a Sender.
type Option func(*Config)

// WithHashGap sets the pause after each HashData frame.
func WithHashGap(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.HashGap = d
		}
	}
}

// WithFrameGap sets the pause after each FlashData frame.
func WithFrameGap(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.FrameGap = d
		}
	}
}

// WithSettleDelay sets the pause after each sector commit.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}

// WithProgressCallback sets a callback to track transfer progress.
//
// Example:
//
//	s := sender.New(bus, sender.WithProgressCallback(func(p sender.Progress) {
//	    fmt.Printf("%s: sector %d/%d\n", p.Phase, p.Sector, p.Sectors)
//	}))
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}

// Phase is the part of an update a Progress report belongs to.
type Phase int

const (
	PhaseDigest Phase = iota
	PhaseData
	PhaseCheck
)

func (p Phase) String() string {
	switch p {
	case PhaseDigest:
		return "digest"
	case PhaseData:
		return "data"
	case PhaseCheck:
		return "check"
	}
	return "unknown"
}

// Progress describes how far an update has come.
type Progress struct {
	Phase Phase
	// Sector is the number of sectors committed so far.
	Sector  int
	Sectors int
	// Frames is the number of frames sent so far.
	Frames      int
	TotalFrames int
	Elapsed     time.Duration
}

// ProgressCallback receives progress reports. It runs on the sending
// goroutine and should return quickly.
type ProgressCallback func(Progress)
