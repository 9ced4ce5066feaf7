package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/chromefleet/chromefleet/config"
	"github.com/chromefleet/chromefleet/ports"
	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
)

// fakeEngine stands in for the container runtime's REST API.
type fakeEngine struct {
	mu      sync.Mutex
	created []createBody
	removed []string
	listed  []listedContainer

	createStatus int // non-zero forces an error on create
	startStatus  int // non-zero forces an error on start
}

func (f *fakeEngine) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_ping", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "OK") //nolint:errcheck
	})
	mux.HandleFunc("POST /containers/create", func(w http.ResponseWriter, r *http.Request) {
		if f.createStatus != 0 {
			http.Error(w, "engine error", f.createStatus)
			return
		}
		var body createBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode create body: %v", err)
		}
		f.mu.Lock()
		f.created = append(f.created, body)
		n := len(f.created)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(createResponse{ID: fmt.Sprintf("ctr-%d", n)}) //nolint:errcheck
	})
	mux.HandleFunc("POST /containers/{id}/start", func(w http.ResponseWriter, _ *http.Request) {
		if f.startStatus != 0 {
			http.Error(w, "cannot start", f.startStatus)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /containers/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.removed = append(f.removed, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /containers/json", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(f.listed) //nolint:errcheck
	})
	return mux
}

func newTestContainer(t *testing.T, engine *fakeEngine) (*Container, *ports.Allocator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(engine.handler(t))
	t.Cleanup(srv.Close)

	conf := config.DefaultConfig()
	conf.ReadyAttempts = 3
	conf.ReadyIntervalSeconds = 0
	if err := conf.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	alloc, err := ports.NewAllocator(25000, 0)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	client := &provider.Client{BaseURL: srv.URL, HTTP: srv.Client()}
	return newWithClient(conf, alloc, client), alloc, srv
}

func testRequest(id string) provider.CreateRequest {
	return provider.CreateRequest{
		ID:       id,
		Name:     "Test",
		ServerID: "srv-local",
		Profile:  types.ResourceProfile{Memory: 2 << 30, CPUs: 1, Storage: 4 << 30},
	}
}

func TestCreateAllocatesPortPair(t *testing.T) {
	engine := &fakeEngine{}
	c, alloc, _ := newTestContainer(t, engine)

	vm, err := c.Create(context.Background(), testRequest("vm-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if vm.Port != 25000 || vm.DebugPort != 25001 {
		t.Fatalf("ports = %d/%d, want 25000/25001", vm.Port, vm.DebugPort)
	}
	if vm.Handle != "ctr-1" || vm.State != types.VMStateInitializing {
		t.Fatalf("unexpected descriptor: %+v", vm)
	}
	if !strings.Contains(vm.DisplayURL, ":25000/vnc.html") {
		t.Fatalf("DisplayURL = %q", vm.DisplayURL)
	}
	if alloc.InUse() != 2 {
		t.Fatalf("InUse = %d, want 2", alloc.InUse())
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.created) != 1 {
		t.Fatalf("engine saw %d creates", len(engine.created))
	}
	body := engine.created[0]
	if body.Labels[labelVM] != "vm-1" || body.Labels[labelServer] != "srv-local" {
		t.Fatalf("labels = %+v", body.Labels)
	}
	if body.HostConfig.Memory != 2<<30 || body.HostConfig.NanoCPUs != 1e9 {
		t.Fatalf("limits = %+v", body.HostConfig)
	}
	bindings := body.HostConfig.PortBindings[displayPort]
	if len(bindings) != 1 || bindings[0].HostPort != "25000" || bindings[0].HostIP != "127.0.0.1" {
		t.Fatalf("display bindings = %+v", bindings)
	}
}

func TestCreateEngineErrorReleasesPorts(t *testing.T) {
	engine := &fakeEngine{createStatus: http.StatusInternalServerError}
	c, alloc, _ := newTestContainer(t, engine)

	if _, err := c.Create(context.Background(), testRequest("vm-1")); err == nil {
		t.Fatal("expected create error")
	}
	if alloc.InUse() != 0 {
		t.Fatalf("InUse = %d after failed create, want 0", alloc.InUse())
	}
}

func TestCreateStartFailureLeavesNoOrphan(t *testing.T) {
	engine := &fakeEngine{startStatus: http.StatusInternalServerError}
	c, alloc, _ := newTestContainer(t, engine)

	if _, err := c.Create(context.Background(), testRequest("vm-1")); err == nil {
		t.Fatal("expected create error")
	}
	if alloc.InUse() != 0 {
		t.Fatalf("InUse = %d after failed start, want 0", alloc.InUse())
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.removed) != 1 || engine.removed[0] != "ctr-1" {
		t.Fatalf("created container not removed: %v", engine.removed)
	}
	if _, err := c.Inspect(context.Background(), "vm-1"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("failed create left a bookkeeping entry: %v", err)
	}
}

func TestDeleteReleasesPorts(t *testing.T) {
	engine := &fakeEngine{}
	c, alloc, _ := newTestContainer(t, engine)
	ctx := context.Background()

	if _, err := c.Create(ctx, testRequest("vm-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Delete(ctx, "vm-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if alloc.InUse() != 0 {
		t.Fatalf("InUse = %d after delete, want 0", alloc.InUse())
	}
	engine.mu.Lock()
	removed := len(engine.removed)
	engine.mu.Unlock()
	if removed != 1 {
		t.Fatalf("engine saw %d removes, want 1", removed)
	}
	if err := c.Delete(ctx, "vm-1"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestAvailableIsAuthoritative(t *testing.T) {
	engine := &fakeEngine{}
	c, _, srv := newTestContainer(t, engine)

	if !c.Available(context.Background()) {
		t.Fatal("reachable runtime reported unavailable")
	}
	srv.Close()
	if c.Available(context.Background()) {
		t.Fatal("unreachable runtime reported available")
	}
}

func TestReadyProbesDebugEndpoint(t *testing.T) {
	engine := &fakeEngine{}
	c, _, _ := newTestContainer(t, engine)

	debug := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"Browser":"Chrome/120.0"}`) //nolint:errcheck
	}))
	defer debug.Close()

	vm := &types.VM{ID: "vm-1", ControlURL: debug.URL, State: types.VMStateInitializing}
	if err := c.Ready(context.Background(), vm); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestReadyExhaustsAttempts(t *testing.T) {
	engine := &fakeEngine{}
	c, _, _ := newTestContainer(t, engine)

	debug := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}))
	defer debug.Close()

	vm := &types.VM{ID: "vm-1", ControlURL: debug.URL, State: types.VMStateInitializing}
	err := c.Ready(context.Background(), vm)
	if err == nil || !strings.Contains(err.Error(), "failed to become ready") {
		t.Fatalf("err = %v, want readiness failure", err)
	}
}

func TestStartStopAreNoOps(t *testing.T) {
	engine := &fakeEngine{}
	c, _, _ := newTestContainer(t, engine)
	ctx := context.Background()

	if _, err := c.Create(ctx, testRequest("vm-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Start(ctx, "vm-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(ctx, "vm-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(ctx, "missing"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("Stop(missing) = %v, want ErrNotFound", err)
	}
	vm, err := c.Inspect(ctx, "vm-1")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if vm.State != types.VMStateInitializing {
		t.Fatalf("no-op changed state to %s", vm.State)
	}
}

func TestPruneRemovesOnlyOrphans(t *testing.T) {
	engine := &fakeEngine{}
	c, _, _ := newTestContainer(t, engine)
	ctx := context.Background()

	vm, err := c.Create(ctx, testRequest("vm-1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	engine.listed = []listedContainer{
		{ID: vm.Handle, Labels: map[string]string{labelVM: "vm-1"}},
		{ID: "ctr-orphan", Labels: map[string]string{labelVM: "vm-gone"}},
		{ID: "ctr-unrelated", Labels: map[string]string{}},
	}

	pruned, err := c.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != "ctr-orphan" {
		t.Fatalf("pruned = %v, want [ctr-orphan]", pruned)
	}
}
