package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned when the allocator runs past the valid port
// range. This is a fatal configuration error, never retried.
var ErrExhausted = errors.New("port space exhausted")

const maxPort = 65535

// Allocator issues unique host ports for display forwarding. Allocation is
// monotonic from a configured base; released ports are not reused, which
// keeps the implementation trivially race-free. The inUse set exists so no
// two live VMs can ever share a port even across release/allocate races.
type Allocator struct {
	mu    sync.Mutex
	next  int
	limit int
	inUse map[int]struct{}
}

// NewAllocator creates an Allocator issuing ports in [base, limit].
// A limit of 0 means the top of the valid port range.
func NewAllocator(base, limit int) (*Allocator, error) {
	if limit == 0 {
		limit = maxPort
	}
	if base <= 0 || base > maxPort || limit > maxPort || base > limit {
		return nil, fmt.Errorf("invalid port range [%d, %d]", base, limit)
	}
	return &Allocator{
		next:  base,
		limit: limit,
		inUse: make(map[int]struct{}),
	}, nil
}

// Allocate returns the next free port. Concurrent callers never receive the
// same port. Returns ErrExhausted once the range is used up.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.next <= a.limit {
		p := a.next
		a.next++
		if _, taken := a.inUse[p]; taken {
			continue
		}
		a.inUse[p] = struct{}{}
		return p, nil
	}
	return 0, ErrExhausted
}

// Release returns a port to the allocator. Idempotent; releasing a port that
// was never allocated is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// InUse reports how many ports are currently held.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
