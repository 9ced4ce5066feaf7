package registry

import (
	"context"
	"sync"
	"time"

	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
)

// Registry is the in-memory index of live VMs: logical ID → current
// descriptor plus the provider that owns it. It is the only structure shared
// between request handlers and readiness watchers.
//
// The top-level map is guarded by an RWMutex held only for map access; each
// entry carries its own mutex so concurrent operations on distinct IDs never
// contend, and no registry-wide lock is ever held across a blocking call.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	vm    types.VM
	owner provider.Provider
	// cancel stops the readiness watcher bound to this entry's lifetime.
	// Invoked on delete and on overwrite so a late watcher write can never
	// resurrect a removed VM.
	cancel context.CancelFunc
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Put registers vm under its ID, replacing any prior entry (last write
// wins). The previous entry's watcher, if any, is cancelled.
func (r *Registry) Put(vm *types.VM, owner provider.Provider, cancel context.CancelFunc) {
	e := &entry{vm: *vm, owner: owner, cancel: cancel}

	r.mu.Lock()
	old := r.entries[vm.ID]
	r.entries[vm.ID] = e
	r.mu.Unlock()

	if old != nil && old.cancel != nil {
		old.cancel()
	}
}

// Get returns a detached copy of the descriptor and its owning provider.
func (r *Registry) Get(id string) (types.VM, provider.Provider, bool) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return types.VM{}, nil, false
	}
	e.mu.Lock()
	vm := e.vm
	owner := e.owner
	e.mu.Unlock()
	return vm, owner, true
}

// List returns detached copies of all descriptors, unordered.
func (r *Registry) List() []types.VM {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		es = append(es, e)
	}
	r.mu.RUnlock()

	out := make([]types.VM, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		out = append(out, e.vm)
		e.mu.Unlock()
	}
	return out
}

// Len reports the number of registered VMs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Delete removes the entry, cancels its watcher and returns the final
// descriptor. The second return is false for unknown IDs.
func (r *Registry) Delete(id string) (types.VM, provider.Provider, bool) {
	r.mu.Lock()
	e := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if e == nil {
		return types.VM{}, nil, false
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	vm := e.vm
	owner := e.owner
	e.mu.Unlock()
	return vm, owner, true
}

// Advance applies an asynchronous state transition from a readiness
// watcher. Transitions are forward-only (types.VMState.CanAdvance) and
// writes to a deleted key are silently ignored — a watcher that lost the
// race against delete must not resurrect the entry. Returns whether the
// transition was applied.
func (r *Registry) Advance(id string, st types.VMState, errMsg string) bool {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.vm.State.CanAdvance(st) {
		return false
	}
	e.vm.State = st
	e.vm.LastActivity = time.Now()
	if errMsg != "" {
		e.vm.LastError = errMsg
	}
	return true
}

// SetState applies an explicit operator-driven transition (start/stop/
// restart). Unlike Advance it may leave the stopped state again. Returns
// false for unknown IDs.
func (r *Registry) SetState(id string, st types.VMState) bool {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.vm.State = st
	e.vm.LastActivity = time.Now()
	e.mu.Unlock()
	return true
}

// Refresh merges a provider's fresher view into the entry under its lock.
// The stored state never regresses: if fn writes a state the current one
// cannot advance to, the prior state is kept. No-op on unknown IDs.
func (r *Registry) Refresh(id string, fn func(*types.VM)) bool {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prior := e.vm.State
	fn(&e.vm)
	if e.vm.State != prior && !prior.CanAdvance(e.vm.State) {
		e.vm.State = prior
	}
	return true
}
