package provider

import (
	"context"
	"errors"

	"github.com/chromefleet/chromefleet/types"
)

// ErrNotFound is returned when a VM ID does not exist in a provider's
// bookkeeping.
var ErrNotFound = errors.New("VM not found")

// CreateRequest carries the provider-independent parameters of a create
// call. ID is externally supplied and unique across the registry.
type CreateRequest struct {
	ID       string
	Name     string
	ServerID string
	Profile  types.ResourceProfile
}

// Provider is the lifecycle contract every backend implements.
// Each backend (local container runtime, the remote provisioning APIs, and
// the mock) implements this interface once; the orchestrator selects exactly
// one provider per logical server.
type Provider interface {
	Kind() types.ProviderKind

	// Available is a best-effort liveness probe. It never returns an error:
	// probe failures are logged and mapped to a per-provider default. The
	// container probe is authoritative (failure means unavailable); remote
	// probes are advisory and some providers optimistically report available
	// so that a later Create can fail explicitly.
	Available(ctx context.Context) bool

	// Create provisions a new VM. Safe against duplicate calls with the same
	// ID (last write wins in the provider's bookkeeping). Must never leave
	// an orphaned backend resource when it returns an error.
	Create(ctx context.Context, req CreateRequest) (*types.VM, error)

	// Ready blocks until the VM's endpoints answer, the bounded poll is
	// exhausted, or ctx is cancelled. It is called exactly once per create,
	// from the orchestrator's readiness watcher.
	Ready(ctx context.Context, vm *types.VM) error

	// Inspect returns the provider's current view of one VM, refreshing
	// from the backend where that is cheap. Returns ErrNotFound for IDs
	// absent from this provider's bookkeeping.
	Inspect(ctx context.Context, id string) (*types.VM, error)

	// List returns an unordered snapshot of this provider's VMs.
	List(ctx context.Context) ([]*types.VM, error)

	// Start, Stop and Restart drive explicit state changes. Only remote
	// providers implement real semantics; container and mock treat these as
	// no-ops since their VMs are created fresh per request.
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error

	// Delete tears down the backend resource, removes the bookkeeping entry
	// and releases any allocated ports. Returns ErrNotFound for unknown IDs.
	Delete(ctx context.Context, id string) error
}
