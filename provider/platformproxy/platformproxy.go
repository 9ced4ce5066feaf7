package platformproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
)

// DefaultTimeout bounds every proxy API call.
const DefaultTimeout = 15 * time.Second

// PlatformProxy provisions Chrome VMs through the platform proxy API. The
// proxy fronts pre-warmed browser sessions, so creation is synchronous: a
// successful create call means the session is already usable and the
// descriptor is born ready. There is no readiness poll.
type PlatformProxy struct {
	client *provider.Client
	book   *provider.Book
}

type session struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type createBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New creates the platform proxy provider against the given authenticated
// client.
func New(client *provider.Client) *PlatformProxy {
	return &PlatformProxy{client: client, book: provider.NewBook()}
}

func (p *PlatformProxy) Kind() types.ProviderKind { return types.ProviderPlatformProxy }

// Available probes the status endpoint but reports available regardless:
// the proxy sits behind a load balancer whose health endpoint flaps, so the
// probe is advisory and create is allowed to fail explicitly.
func (p *PlatformProxy) Available(ctx context.Context) bool {
	if err := p.client.Ping(ctx, "/api/status", true); err != nil {
		log.WithFunc("platformproxy.Available").Warnf(ctx, "status probe failed, proceeding optimistically: %v", err)
	}
	return true
}

// Create acquires a session. The returned descriptor is already ready.
func (p *PlatformProxy) Create(ctx context.Context, req provider.CreateRequest) (*types.VM, error) {
	var s session
	err := provider.DoWithRetry(ctx, func() error {
		return p.client.DoJSON(ctx, http.MethodPost, "/api/sessions", createBody{ID: req.ID, Name: req.Name}, &s)
	})
	if err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}

	now := time.Now()
	vm := &types.VM{
		ID:           req.ID,
		Name:         req.Name,
		Provider:     types.ProviderPlatformProxy,
		State:        types.VMStateReady,
		Handle:       s.ID,
		DisplayURL:   p.client.URL("/api/sessions/" + req.ID + "/display"),
		ControlURL:   p.client.URL("/api/sessions/" + req.ID + "/agent"),
		ServerID:     req.ServerID,
		CreatedAt:    now,
		LastActivity: now,
		Resources:    req.Profile,
	}
	p.book.Put(vm)
	return vm, nil
}

// Ready returns immediately; proxy sessions are usable as soon as Create
// succeeds.
func (p *PlatformProxy) Ready(_ context.Context, _ *types.VM) error { return nil }

// Inspect refreshes the session status opportunistically, tolerating a
// non-answering proxy by returning the cached descriptor.
func (p *PlatformProxy) Inspect(ctx context.Context, id string) (*types.VM, error) {
	cached, err := p.book.Get(id)
	if err != nil {
		return nil, err
	}
	var s session
	if err := p.client.DoJSON(ctx, http.MethodGet, "/api/sessions/"+id, nil, &s); err != nil {
		log.WithFunc("platformproxy.Inspect").Debugf(ctx, "refresh %s failed, returning cached: %v", id, err)
		return &cached, nil
	}
	_ = p.book.Update(id, func(v *types.VM) {
		if s.Status == "closed" {
			v.State = types.VMStateStopped
		}
		v.LastActivity = time.Now()
	})
	fresh, err := p.book.Get(id)
	if err != nil {
		return &cached, nil
	}
	return &fresh, nil
}

func (p *PlatformProxy) List(_ context.Context) ([]*types.VM, error) {
	return p.book.List(), nil
}

func (p *PlatformProxy) Start(ctx context.Context, id string) error {
	return p.action(ctx, id, "resume", types.VMStateReady)
}

func (p *PlatformProxy) Stop(ctx context.Context, id string) error {
	return p.action(ctx, id, "pause", types.VMStateStopped)
}

func (p *PlatformProxy) Restart(ctx context.Context, id string) error {
	return p.action(ctx, id, "refresh", types.VMStateReady)
}

func (p *PlatformProxy) action(ctx context.Context, id, op string, st types.VMState) error {
	if _, err := p.book.Get(id); err != nil {
		return err
	}
	err := provider.DoWithRetry(ctx, func() error {
		return p.client.DoJSON(ctx, http.MethodPost, "/api/sessions/"+id+"/"+op, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("session %s: %w", op, err)
	}
	return p.book.Update(id, func(v *types.VM) {
		v.State = st
		v.LastActivity = time.Now()
	})
}

// Delete releases the session and removes the bookkeeping entry.
func (p *PlatformProxy) Delete(ctx context.Context, id string) error {
	if _, err := p.book.Get(id); err != nil {
		return err
	}
	err := p.client.DoJSON(ctx, http.MethodDelete, "/api/sessions/"+id, nil, nil)
	if err != nil {
		var ae *provider.APIError
		if !errors.As(err, &ae) || ae.Code != http.StatusNotFound {
			log.WithFunc("platformproxy.Delete").Warnf(ctx, "remote delete %s: %v", id, err)
		}
	}
	_, err = p.book.Delete(id)
	return err
}
