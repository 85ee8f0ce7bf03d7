package boot

import (
	"github.com/canboot/canboot/internal/syncutil"
)

// Recorder is a Transferer for hosts: it records the transfers it was asked
// to perform and returns, so the caller can observe where the bootloader
// would have jumped.
type Recorder struct {
	mu      syncutil.Mutex
	targets []Target
	// Err, if set, is returned from every Transfer.
	Err error
}

func (r *Recorder) Transfer(t Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.targets = append(r.targets, t)
	return nil
}

// Targets returns the recorded transfers in order.
func (r *Recorder) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Target{}, r.targets...)
}
