package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chromefleet/chromefleet/config"
	"github.com/chromefleet/chromefleet/ports"
	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/provider/cloudcompute"
	"github.com/chromefleet/chromefleet/provider/container"
	"github.com/chromefleet/chromefleet/provider/edgeworker"
	"github.com/chromefleet/chromefleet/provider/platformproxy"
	"github.com/chromefleet/chromefleet/registry"
	"github.com/chromefleet/chromefleet/types"
)

// listRefreshConcurrency bounds parallel remote refreshes during ListVMs.
const listRefreshConcurrency = 8

// Orchestrator routes lifecycle requests to exactly one provider per
// logical server, applies the uniform degrade-to-mock policy on provider
// failure, and keeps the registry as the single source of truth for live
// VMs. Creation never fails from the caller's perspective except for port
// exhaustion; callers detect degraded mode via Provider/LastError on the
// returned descriptor.
type Orchestrator struct {
	conf      *config.Config
	reg       *registry.Registry
	providers map[string]provider.Provider // server ID → provider
	mock      *provider.Mock
	ctr       *container.Container // nil when no container server is configured

	// probes deduplicates concurrent availability checks per server.
	probes singleflight.Group
}

// New builds the orchestrator and one provider per configured server.
// Container servers share a single adapter instance (and therefore one port
// allocator); remote servers each get their own authenticated client.
func New(conf *config.Config) (*Orchestrator, error) {
	alloc, err := ports.NewAllocator(conf.PortBase, conf.PortLimit)
	if err != nil {
		return nil, fmt.Errorf("init port allocator: %w", err)
	}

	o := &Orchestrator{
		conf:      conf,
		reg:       registry.New(),
		providers: make(map[string]provider.Provider, len(conf.Servers)),
		mock:      provider.NewMock(conf.MockDelay()),
	}

	for _, s := range conf.Servers {
		switch s.Provider {
		case types.ProviderContainer:
			if o.ctr == nil {
				o.ctr = container.New(conf, alloc)
			}
			o.providers[s.ID] = o.ctr
		case types.ProviderEdgeWorker:
			client := provider.NewClient(s.BaseURL, s.Token, s.Timeout(edgeworker.DefaultTimeout))
			o.providers[s.ID] = edgeworker.New(client)
		case types.ProviderCloudCompute:
			client := provider.NewClient(s.BaseURL, s.Token, s.Timeout(cloudcompute.DefaultTimeout))
			o.providers[s.ID] = cloudcompute.New(client)
		case types.ProviderPlatformProxy:
			client := provider.NewClient(s.BaseURL, s.Token, s.Timeout(platformproxy.DefaultTimeout))
			o.providers[s.ID] = platformproxy.New(client)
		case types.ProviderMock:
			o.providers[s.ID] = o.mock
		default:
			return nil, fmt.Errorf("server %q: unknown provider %q", s.ID, s.Provider)
		}
	}
	return o, nil
}

// CreateVM provisions a VM on the requested server. An empty ID is filled
// with a generated one. A request for an already-registered ID overwrites
// the prior entry after a best-effort delete of its backend resource.
//
// Provider failure degrades to a mock descriptor instead of returning an
// error; only port exhaustion is surfaced.
func (o *Orchestrator) CreateVM(ctx context.Context, req provider.CreateRequest) (*types.VM, error) {
	logger := log.WithFunc("orchestrator.CreateVM")

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Profile == (types.ResourceProfile{}) {
		req.Profile = o.conf.Profile()
	}

	// Overwrite semantics: tear down the previous incarnation first.
	if _, prevOwner, ok := o.reg.Delete(req.ID); ok {
		if err := prevOwner.Delete(ctx, req.ID); err != nil && !errors.Is(err, provider.ErrNotFound) {
			logger.Warnf(ctx, "delete previous VM %s: %v", req.ID, err)
		}
	}

	vm, owner, err := o.provision(ctx, req)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(context.Background())
	o.reg.Put(vm, owner, cancel)
	go o.watchReady(wctx, owner, *vm)

	logger.Infof(ctx, "VM %s created on %s (provider: %s, state: %s)", vm.ID, vm.ServerID, vm.Provider, vm.State)
	out := *vm
	return &out, nil
}

// provision runs the selected provider's create and applies the degrade
// policy in one place: unknown server, unavailable provider, and create
// failure all fall back to a mock descriptor carrying the reason. Port
// exhaustion is the one fatal exception: it aborts instead of degrading.
func (o *Orchestrator) provision(ctx context.Context, req provider.CreateRequest) (*types.VM, provider.Provider, error) {
	logger := log.WithFunc("orchestrator.provision")

	p, ok := o.providers[req.ServerID]
	if !ok {
		logger.Warnf(ctx, "unknown server %q, degrading to mock", req.ServerID)
		return o.mock.Synthesize(req, fmt.Sprintf("unknown server %q", req.ServerID)), o.mock, nil
	}

	if !o.available(ctx, req.ServerID, p) {
		logger.Warnf(ctx, "server %s (%s) unavailable, degrading to mock", req.ServerID, p.Kind())
		return o.mock.Synthesize(req, fmt.Sprintf("%s provider unavailable", p.Kind())), o.mock, nil
	}

	vm, err := p.Create(ctx, req)
	if err == nil {
		return vm, p, nil
	}
	if errors.Is(err, ports.ErrExhausted) {
		return nil, nil, fmt.Errorf("create VM %s: %w", req.ID, err)
	}
	logger.Warnf(ctx, "create on %s (%s) failed, degrading to mock: %v", req.ServerID, p.Kind(), err)
	return o.mock.Synthesize(req, err.Error()), o.mock, nil
}

// available probes the provider, deduplicating concurrent probes for the
// same server through singleflight.
func (o *Orchestrator) available(ctx context.Context, serverID string, p provider.Provider) bool {
	v, _, _ := o.probes.Do(serverID, func() (any, error) {
		return p.Available(ctx), nil
	})
	avail, ok := v.(bool)
	return ok && avail
}

// watchReady drives one VM from initializing to ready or error. It is the
// only asynchronous writer of VM state; its context is bound to the
// registry entry and cancelled when the entry is deleted or overwritten, so
// a late transition can never touch a removed VM.
func (o *Orchestrator) watchReady(ctx context.Context, p provider.Provider, vm types.VM) {
	logger := log.WithFunc("orchestrator.watchReady")

	err := p.Ready(ctx, &vm)
	if ctx.Err() != nil {
		return // entry deleted or replaced mid-poll
	}
	if err != nil {
		logger.Warnf(ctx, "VM %s failed readiness: %v", vm.ID, err)
		o.reg.Advance(vm.ID, types.VMStateError, err.Error())
		return
	}
	if o.reg.Advance(vm.ID, types.VMStateReady, "") {
		logger.Infof(ctx, "VM %s is ready", vm.ID)
	}
}

// GetVM returns the current descriptor for id, refreshing opportunistically
// from the owning provider. A failed refresh returns the last known
// descriptor unchanged. Returns provider.ErrNotFound for unknown IDs.
func (o *Orchestrator) GetVM(ctx context.Context, id string) (*types.VM, error) {
	vm, owner, ok := o.reg.Get(id)
	if !ok {
		return nil, provider.ErrNotFound
	}
	o.refresh(ctx, id, owner)
	if fresh, _, ok := o.reg.Get(id); ok {
		return &fresh, nil
	}
	return &vm, nil // deleted concurrently; answer with the snapshot
}

// refresh pulls the provider's view of id into the registry. State can only
// move forward; stale or failed reads leave the entry untouched.
func (o *Orchestrator) refresh(ctx context.Context, id string, owner provider.Provider) {
	fresh, err := owner.Inspect(ctx, id)
	if err != nil {
		return
	}
	o.reg.Refresh(id, func(v *types.VM) {
		v.State = fresh.State
		v.LastActivity = fresh.LastActivity
	})
}

// ListVMs returns a snapshot of all registered VMs, refreshing remote
// entries concurrently first.
func (o *Orchestrator) ListVMs(ctx context.Context) []types.VM {
	snapshot := o.reg.List()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listRefreshConcurrency)
	for _, vm := range snapshot {
		id := vm.ID
		switch vm.Provider {
		case types.ProviderEdgeWorker, types.ProviderCloudCompute, types.ProviderPlatformProxy:
			g.Go(func() error {
				if _, owner, ok := o.reg.Get(id); ok {
					o.refresh(gctx, id, owner)
				}
				return nil
			})
		default: // local and mock bookkeeping is already current
		}
	}
	_ = g.Wait()

	return o.reg.List()
}

// DeleteVM removes the VM from the registry, cancels its readiness watcher
// and tears down the backend resource. Backend teardown is best-effort; the
// registry entry and its ports are gone either way. Returns
// provider.ErrNotFound for unknown IDs.
func (o *Orchestrator) DeleteVM(ctx context.Context, id string) error {
	logger := log.WithFunc("orchestrator.DeleteVM")

	_, owner, ok := o.reg.Delete(id)
	if !ok {
		return provider.ErrNotFound
	}
	if err := owner.Delete(ctx, id); err != nil && !errors.Is(err, provider.ErrNotFound) {
		logger.Warnf(ctx, "backend delete %s: %v", id, err)
	}
	logger.Infof(ctx, "VM %s deleted", id)
	return nil
}

// StartVM starts a stopped VM. Remote providers issue the backend call;
// the container and mock providers treat this as a no-op and return the
// current descriptor.
func (o *Orchestrator) StartVM(ctx context.Context, id string) (*types.VM, error) {
	return o.operate(ctx, id, "start", provider.Provider.Start, types.VMStateReady)
}

// StopVM stops a running VM; no-op for container and mock providers.
func (o *Orchestrator) StopVM(ctx context.Context, id string) (*types.VM, error) {
	return o.operate(ctx, id, "stop", provider.Provider.Stop, types.VMStateStopped)
}

// RestartVM restarts a VM. On remote providers the VM re-enters
// initializing and a fresh readiness watcher is attached.
func (o *Orchestrator) RestartVM(ctx context.Context, id string) (*types.VM, error) {
	vm, owner, ok := o.reg.Get(id)
	if !ok {
		return nil, provider.ErrNotFound
	}
	if !isRemote(vm.Provider) {
		return &vm, nil
	}
	if err := owner.Restart(ctx, id); err != nil {
		return nil, fmt.Errorf("restart VM %s: %w", id, err)
	}

	// Re-arm the readiness watcher through overwrite: Put cancels the old
	// watcher (if any poll is still in flight) and binds a new one.
	vm.State = types.VMStateInitializing
	wctx, cancel := context.WithCancel(context.Background())
	o.reg.Put(&vm, owner, cancel)
	go o.watchReady(wctx, owner, vm)

	out := vm
	return &out, nil
}

func (o *Orchestrator) operate(ctx context.Context, id, op string, call func(provider.Provider, context.Context, string) error, st types.VMState) (*types.VM, error) {
	vm, owner, ok := o.reg.Get(id)
	if !ok {
		return nil, provider.ErrNotFound
	}
	if !isRemote(vm.Provider) {
		return &vm, nil // created fresh per VM; nothing to drive
	}
	if err := call(owner, ctx, id); err != nil {
		return nil, fmt.Errorf("%s VM %s: %w", op, id, err)
	}
	o.reg.SetState(id, st)
	fresh, _, _ := o.reg.Get(id)
	return &fresh, nil
}

func isRemote(k types.ProviderKind) bool {
	switch k {
	case types.ProviderEdgeWorker, types.ProviderCloudCompute, types.ProviderPlatformProxy:
		return true
	default:
		return false
	}
}

// ServerStatus reports one configured server and its probe result.
type ServerStatus struct {
	ID        string             `json:"id"`
	Provider  types.ProviderKind `json:"provider"`
	Available bool               `json:"available"`
}

// Servers probes all configured servers concurrently.
func (o *Orchestrator) Servers(ctx context.Context) []ServerStatus {
	out := make([]ServerStatus, len(o.conf.Servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range o.conf.Servers {
		g.Go(func() error {
			p := o.providers[s.ID]
			out[i] = ServerStatus{
				ID:        s.ID,
				Provider:  p.Kind(),
				Available: o.available(gctx, s.ID, p),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Prune removes orphaned local containers left behind by interrupted
// creates. No-op when no container server is configured.
func (o *Orchestrator) Prune(ctx context.Context) ([]string, error) {
	if o.ctr == nil {
		return nil, nil
	}
	return o.ctr.Prune(ctx)
}
