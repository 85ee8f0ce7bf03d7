//go:build !deadlock

// Package syncutil provides mutex types that can optionally use deadlock
// detection. Build with -tags=deadlock to swap in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}
