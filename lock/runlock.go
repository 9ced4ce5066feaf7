package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunLock is the cross-process single-instance guard. Port allocation and
// VM bookkeeping live in process memory, so two orchestrator processes
// sharing one port base would hand out colliding ports; the lock makes the
// second process fail fast instead.
type RunLock struct {
	fl *flock.Flock
}

// Acquire takes the run lock non-blocking. Returns an error when another
// process already holds it.
func Acquire(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("run lock %s held: another chromefleet instance is running", path)
	}
	return &RunLock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil receiver.
func (l *RunLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
