package platformproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
)

func newProxyServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(session{ID: "sess-9", Status: "active"}) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mux
}

func TestCreateIsBornReady(t *testing.T) {
	srv, _ := newProxyServer(t)
	p := New(provider.NewClient(srv.URL, "tok", time.Second))

	vm, err := p.Create(context.Background(), provider.CreateRequest{ID: "vm-1", Name: "Test", ServerID: "srv-pp"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if vm.State != types.VMStateReady {
		t.Fatalf("state = %s, want ready (sessions are pre-warmed)", vm.State)
	}
	if vm.Handle != "sess-9" {
		t.Fatalf("Handle = %q", vm.Handle)
	}
	if err := p.Ready(context.Background(), vm); err != nil {
		t.Fatalf("Ready must be a no-op, got %v", err)
	}
}

func TestCreateFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no capacity", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(provider.NewClient(srv.URL, "tok", time.Second))
	if _, err := p.Create(context.Background(), provider.CreateRequest{ID: "vm-1"}); err == nil {
		t.Fatal("expected create error")
	}
}

func TestAvailableIsOptimistic(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := New(provider.NewClient(srv.URL, "tok", 200*time.Millisecond))
	if !p.Available(context.Background()) {
		t.Fatal("probe failure must not report unavailable")
	}
}

func TestInspectMapsClosedToStopped(t *testing.T) {
	srv, mux := newProxyServer(t)
	mux.HandleFunc("GET /api/sessions/vm-1", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(session{ID: "sess-9", Status: "closed"}) //nolint:errcheck
	})

	p := New(provider.NewClient(srv.URL, "tok", time.Second))
	ctx := context.Background()
	if _, err := p.Create(ctx, provider.CreateRequest{ID: "vm-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	vm, err := p.Inspect(ctx, "vm-1")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if vm.State != types.VMStateStopped {
		t.Fatalf("state = %s, want stopped", vm.State)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	srv, mux := newProxyServer(t)
	mux.HandleFunc("DELETE /api/sessions/vm-1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	p := New(provider.NewClient(srv.URL, "tok", time.Second))
	ctx := context.Background()
	if _, err := p.Create(ctx, provider.CreateRequest{ID: "vm-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Delete(ctx, "vm-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Inspect(ctx, "vm-1"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("entry survived delete: %v", err)
	}
}
