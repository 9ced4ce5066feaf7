package types

import "time"

// ProviderKind identifies which backend provisioned a VM.
type ProviderKind string

const (
	ProviderContainer     ProviderKind = "container"     // local container runtime
	ProviderEdgeWorker    ProviderKind = "edgeworker"    // edge worker provisioning API
	ProviderCloudCompute  ProviderKind = "cloudcompute"  // cloud compute provisioning API
	ProviderPlatformProxy ProviderKind = "platformproxy" // platform proxy API
	ProviderMock          ProviderKind = "mock"          // synthetic, no backend
)

// VMState represents the lifecycle state of a Chrome VM.
type VMState string

const (
	VMStateInitializing VMState = "initializing" // created, backend still provisioning
	VMStateReady        VMState = "ready"        // display and control endpoints reachable
	VMStateStopped      VMState = "stopped"      // stopped via an explicit operation
	VMStateError        VMState = "error"        // provisioning or readiness failed
)

// CanAdvance reports whether an asynchronous transition from s to next is
// legal. Asynchronous writers (readiness watchers) may only move state
// forward: initializing → ready/error, ready → stopped/error. Stopped and
// error are terminal on this path; explicit start/stop operations go through
// Registry.SetState instead.
func (s VMState) CanAdvance(next VMState) bool {
	switch s {
	case VMStateInitializing:
		return next == VMStateReady || next == VMStateError
	case VMStateReady:
		return next == VMStateStopped || next == VMStateError
	default:
		return false
	}
}

// ResourceProfile describes provider-independent VM sizing.
type ResourceProfile struct {
	Memory  int64   `json:"memory"`  // bytes
	CPUs    float64 `json:"cpus"`    // fractional CPUs
	Storage int64   `json:"storage"` // bytes
}

// VM is the canonical descriptor of one Chrome VM: identity, state and
// endpoints. One per logical VM, keyed by ID in the registry.
type VM struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Provider ProviderKind `json:"provider"`
	State    VMState      `json:"state"`

	// Handle is the provider-specific backend reference (container ID or
	// remote resource ID). Always empty for mock VMs.
	Handle string `json:"handle,omitempty"`

	DisplayURL string `json:"display_url,omitempty"` // remote-display endpoint
	ControlURL string `json:"control_url,omitempty"` // debug/agent endpoint

	// Port and DebugPort are host ports issued by the port allocator.
	// Only the container provider binds them; 0 means none.
	Port      int `json:"port,omitempty"`
	DebugPort int `json:"debug_port,omitempty"`

	ServerID string `json:"server_id"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	Resources ResourceProfile `json:"resources"`

	// LastError records the most recent backend failure. A populated
	// LastError on a mock VM means creation degraded from a real provider.
	LastError string `json:"last_error,omitempty"`
}
