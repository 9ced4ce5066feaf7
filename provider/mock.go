package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/chromefleet/chromefleet/types"
	"github.com/chromefleet/chromefleet/utils"
)

// Mock is the synthetic provider. It backs two cases: servers explicitly
// configured as mock, and the uniform degrade path the orchestrator takes
// when a real provider is unavailable or its create fails. Mock VMs hold no
// backend handle and no ports; readiness flips after a fixed delay that
// simulates provisioning latency.
type Mock struct {
	book  *Book
	delay time.Duration
}

// NewMock creates the mock provider. delay is how long a mock VM stays in
// the initializing state before its readiness watcher reports ready.
func NewMock(delay time.Duration) *Mock {
	return &Mock{book: NewBook(), delay: delay}
}

func (m *Mock) Kind() types.ProviderKind { return types.ProviderMock }

// Available always reports true; there is no backend to probe.
func (m *Mock) Available(_ context.Context) bool { return true }

// Create synthesizes a descriptor with no degradation reason.
func (m *Mock) Create(_ context.Context, req CreateRequest) (*types.VM, error) {
	return m.Synthesize(req, ""), nil
}

// Synthesize builds and registers a mock descriptor. reason, when non-empty,
// is the backend failure that caused the degrade and lands in LastError.
func (m *Mock) Synthesize(req CreateRequest, reason string) *types.VM {
	now := time.Now()
	vm := &types.VM{
		ID:           req.ID,
		Name:         req.Name,
		Provider:     types.ProviderMock,
		State:        types.VMStateInitializing,
		DisplayURL:   fmt.Sprintf("mock://%s/display", req.ID),
		ControlURL:   fmt.Sprintf("mock://%s/agent", req.ID),
		ServerID:     req.ServerID,
		CreatedAt:    now,
		LastActivity: now,
		Resources:    req.Profile,
		LastError:    reason,
	}
	m.book.Put(vm)
	return vm
}

// Ready waits the configured simulated provisioning delay.
func (m *Mock) Ready(ctx context.Context, vm *types.VM) error {
	if err := utils.Sleep(ctx, m.delay); err != nil {
		return err
	}
	_ = m.book.Update(vm.ID, func(v *types.VM) {
		v.State = types.VMStateReady
		v.LastActivity = time.Now()
	})
	return nil
}

func (m *Mock) Inspect(_ context.Context, id string) (*types.VM, error) {
	vm, err := m.book.Get(id)
	if err != nil {
		return nil, err
	}
	return &vm, nil
}

func (m *Mock) List(_ context.Context) ([]*types.VM, error) {
	return m.book.List(), nil
}

// Start, Stop and Restart only mutate bookkeeping; there is nothing to drive.
func (m *Mock) Start(ctx context.Context, id string) error {
	return m.setState(ctx, id, types.VMStateReady)
}

func (m *Mock) Stop(ctx context.Context, id string) error {
	return m.setState(ctx, id, types.VMStateStopped)
}

func (m *Mock) Restart(ctx context.Context, id string) error {
	return m.setState(ctx, id, types.VMStateReady)
}

func (m *Mock) setState(ctx context.Context, id string, st types.VMState) error {
	err := m.book.Update(id, func(v *types.VM) {
		v.State = st
		v.LastActivity = time.Now()
	})
	if err != nil {
		log.WithFunc("mock.setState").Debugf(ctx, "VM %s: %v", id, err)
	}
	return err
}

func (m *Mock) Delete(_ context.Context, id string) error {
	_, err := m.book.Delete(id)
	return err
}
