package edgeworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
	"github.com/chromefleet/chromefleet/utils"
)

const (
	// DefaultTimeout bounds every edge worker API call.
	DefaultTimeout = 10 * time.Second

	readyAttempts = 30
	readyInterval = time.Second
)

// EdgeWorker provisions Chrome VMs through the edge worker API. Worker
// creation is asynchronous: the create call registers the worker and a
// bounded status poll advances it to ready.
type EdgeWorker struct {
	client *provider.Client
	book   *provider.Book
}

// worker is the API's resource representation.
type worker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type createBody struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	MemoryMB int64   `json:"memory_mb"`
	CPUs     float64 `json:"cpus"`
}

// New creates the edge worker provider against the given authenticated
// client.
func New(client *provider.Client) *EdgeWorker {
	return &EdgeWorker{client: client, book: provider.NewBook()}
}

func (e *EdgeWorker) Kind() types.ProviderKind { return types.ProviderEdgeWorker }

// Available probes the health endpoint. The probe is advisory: edge POPs
// answer health checks unreliably, so a failed probe still reports available
// and lets the create call fail explicitly instead.
func (e *EdgeWorker) Available(ctx context.Context) bool {
	if err := e.client.Ping(ctx, "/health", true); err != nil {
		log.WithFunc("edgeworker.Available").Warnf(ctx, "health probe failed, proceeding optimistically: %v", err)
	}
	return true
}

// Create registers a worker and synthesizes the descriptor. Display and
// control endpoints are deterministic URL templates rooted at the provider
// base URL.
func (e *EdgeWorker) Create(ctx context.Context, req provider.CreateRequest) (*types.VM, error) {
	body := createBody{
		ID:       req.ID,
		Name:     req.Name,
		MemoryMB: req.Profile.Memory >> 20,
		CPUs:     req.Profile.CPUs,
	}
	var w worker
	err := provider.DoWithRetry(ctx, func() error {
		return e.client.DoJSON(ctx, http.MethodPost, "/workers", body, &w)
	})
	if err != nil {
		return nil, fmt.Errorf("worker create: %w", err)
	}

	now := time.Now()
	vm := &types.VM{
		ID:           req.ID,
		Name:         req.Name,
		Provider:     types.ProviderEdgeWorker,
		State:        types.VMStateInitializing,
		Handle:       w.ID,
		DisplayURL:   e.client.URL("/workers/" + req.ID + "/display"),
		ControlURL:   e.client.URL("/workers/" + req.ID + "/agent"),
		ServerID:     req.ServerID,
		CreatedAt:    now,
		LastActivity: now,
		Resources:    req.Profile,
	}
	e.book.Put(vm)
	return vm, nil
}

// Ready polls the worker status until the backend reports ready.
func (e *EdgeWorker) Ready(ctx context.Context, vm *types.VM) error {
	err := utils.Poll(ctx, readyAttempts, readyInterval, func() (bool, error) {
		var w worker
		if err := e.client.DoJSON(ctx, http.MethodGet, "/workers/"+vm.ID, nil, &w); err != nil {
			return false, nil // transient; keep polling
		}
		return w.Status == "ready", nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to become ready: %w", err)
	}
	_ = e.book.Update(vm.ID, func(v *types.VM) {
		v.State = types.VMStateReady
		v.LastActivity = time.Now()
	})
	return nil
}

// Inspect re-queries the API opportunistically. When the remote call fails
// the last known descriptor is returned unchanged (stale-read tolerance).
func (e *EdgeWorker) Inspect(ctx context.Context, id string) (*types.VM, error) {
	cached, err := e.book.Get(id)
	if err != nil {
		return nil, err
	}
	var w worker
	if err := e.client.DoJSON(ctx, http.MethodGet, "/workers/"+id, nil, &w); err != nil {
		log.WithFunc("edgeworker.Inspect").Debugf(ctx, "refresh %s failed, returning cached: %v", id, err)
		return &cached, nil
	}
	_ = e.book.Update(id, func(v *types.VM) {
		v.State = stateFromStatus(w.Status, v.State)
		v.LastActivity = time.Now()
	})
	fresh, err := e.book.Get(id)
	if err != nil {
		return &cached, nil // deleted concurrently; the stale copy still answers
	}
	return &fresh, nil
}

func (e *EdgeWorker) List(_ context.Context) ([]*types.VM, error) {
	return e.book.List(), nil
}

func (e *EdgeWorker) Start(ctx context.Context, id string) error {
	return e.action(ctx, id, "start", types.VMStateReady)
}

func (e *EdgeWorker) Stop(ctx context.Context, id string) error {
	return e.action(ctx, id, "stop", types.VMStateStopped)
}

func (e *EdgeWorker) Restart(ctx context.Context, id string) error {
	return e.action(ctx, id, "restart", types.VMStateInitializing)
}

func (e *EdgeWorker) action(ctx context.Context, id, op string, st types.VMState) error {
	if _, err := e.book.Get(id); err != nil {
		return err
	}
	err := provider.DoWithRetry(ctx, func() error {
		return e.client.DoJSON(ctx, http.MethodPost, "/workers/"+id+"/"+op, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("worker %s: %w", op, err)
	}
	return e.book.Update(id, func(v *types.VM) {
		v.State = st
		v.LastActivity = time.Now()
	})
}

// Delete issues the remote delete and removes the bookkeeping entry. An
// already-gone worker (404) still deletes cleanly.
func (e *EdgeWorker) Delete(ctx context.Context, id string) error {
	if _, err := e.book.Get(id); err != nil {
		return err
	}
	err := e.client.DoJSON(ctx, http.MethodDelete, "/workers/"+id, nil, nil)
	if err != nil {
		var ae *provider.APIError
		if !errors.As(err, &ae) || ae.Code != http.StatusNotFound {
			log.WithFunc("edgeworker.Delete").Warnf(ctx, "remote delete %s: %v", id, err)
		}
	}
	_, err = e.book.Delete(id)
	return err
}

// stateFromStatus maps the API status vocabulary onto VM states. Unknown
// statuses keep the current state rather than inventing a transition.
func stateFromStatus(status string, cur types.VMState) types.VMState {
	switch status {
	case "provisioning", "pending":
		return types.VMStateInitializing
	case "ready", "running":
		return types.VMStateReady
	case "stopped":
		return types.VMStateStopped
	case "error", "failed":
		return types.VMStateError
	default:
		return cur
	}
}
