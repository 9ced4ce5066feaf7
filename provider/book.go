package provider

import (
	"sync"

	"github.com/chromefleet/chromefleet/types"
	"github.com/chromefleet/chromefleet/utils"
)

// Book is the per-provider bookkeeping index: VM ID → descriptor.
// Every provider keeps its own Book so Inspect/Delete can answer ErrNotFound
// for IDs it never created, independent of the orchestrator's registry.
type Book struct {
	mu  sync.RWMutex
	vms map[string]*types.VM
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{vms: make(map[string]*types.VM)}
}

// Put stores a copy of vm, overwriting any prior entry (last write wins).
func (b *Book) Put(vm *types.VM) {
	cp := *vm
	b.mu.Lock()
	b.vms[cp.ID] = &cp
	b.mu.Unlock()
}

// Get returns a detached copy of the entry, or ErrNotFound.
func (b *Book) Get(id string) (types.VM, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vm, err := utils.LookupCopy(b.vms, id)
	if err != nil {
		return types.VM{}, ErrNotFound
	}
	return vm, nil
}

// Update applies fn to the entry under the lock. Returns ErrNotFound when
// the ID is absent; the update is then skipped entirely.
func (b *Book) Update(id string, fn func(*types.VM)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm := b.vms[id]
	if vm == nil {
		return ErrNotFound
	}
	fn(vm)
	return nil
}

// Delete removes the entry and returns its last value, or ErrNotFound.
func (b *Book) Delete(id string) (types.VM, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm := b.vms[id]
	if vm == nil {
		return types.VM{}, ErrNotFound
	}
	delete(b.vms, id)
	return *vm, nil
}

// List returns detached copies of all entries, unordered.
func (b *Book) List() []*types.VM {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*types.VM, 0, len(b.vms))
	for _, vm := range b.vms {
		cp := *vm
		out = append(out, &cp)
	}
	return out
}
