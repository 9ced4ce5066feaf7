package cloudcompute

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
	// DefaultTimeout bounds every compute API call. Instance creation on
	// this provider is slow, hence the generous bound.
	DefaultTimeout = 30 * time.Second

	readyAttempts = 30
	readyInterval = 2 * time.Second
)

// CloudCompute provisions Chrome VMs as instances of the cloud compute API.
type CloudCompute struct {
	client *provider.Client
	book   *provider.Book
}

type instance struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type createBody struct {
	InstanceID  string  `json:"instance_id"`
	DisplayName string  `json:"display_name"`
	Memory      int64   `json:"memory"`
	CPUs        float64 `json:"cpus"`
	Storage     int64   `json:"storage"`
}

type actionBody struct {
	Action string `json:"action"`
}

// New creates the cloud compute provider against the given authenticated
// client.
func New(client *provider.Client) *CloudCompute {
	return &CloudCompute{client: client, book: provider.NewBook()}
}

func (cc *CloudCompute) Kind() types.ProviderKind { return types.ProviderCloudCompute }

// Available probes the API ping endpoint. Unlike the edge provider this
// probe is treated as authoritative: the compute control plane either
// answers or instance operations will not work at all.
func (cc *CloudCompute) Available(ctx context.Context) bool {
	if err := cc.client.Ping(ctx, "/v1/ping", false); err != nil {
		log.WithFunc("cloudcompute.Available").Warnf(ctx, "ping failed: %v", err)
		return false
	}
	return true
}

// Create asks the API for a new instance and synthesizes the descriptor
// with deterministic endpoint templates.
func (cc *CloudCompute) Create(ctx context.Context, req provider.CreateRequest) (*types.VM, error) {
	body := createBody{
		InstanceID:  req.ID,
		DisplayName: req.Name,
		Memory:      req.Profile.Memory,
		CPUs:        req.Profile.CPUs,
		Storage:     req.Profile.Storage,
	}
	var inst instance
	err := provider.DoWithRetry(ctx, func() error {
		return cc.client.DoJSON(ctx, http.MethodPost, "/v1/instances", body, &inst)
	})
	if err != nil {
		return nil, fmt.Errorf("instance create: %w", err)
	}

	now := time.Now()
	vm := &types.VM{
		ID:           req.ID,
		Name:         req.Name,
		Provider:     types.ProviderCloudCompute,
		State:        types.VMStateInitializing,
		Handle:       inst.ID,
		DisplayURL:   cc.client.URL("/v1/instances/" + req.ID + "/display"),
		ControlURL:   cc.client.URL("/v1/instances/" + req.ID + "/agent"),
		ServerID:     req.ServerID,
		CreatedAt:    now,
		LastActivity: now,
		Resources:    req.Profile,
	}
	cc.book.Put(vm)
	return vm, nil
}

// Ready polls the instance until the API reports it running.
func (cc *CloudCompute) Ready(ctx context.Context, vm *types.VM) error {
	err := utils.Poll(ctx, readyAttempts, readyInterval, func() (bool, error) {
		var inst instance
		if err := cc.client.DoJSON(ctx, http.MethodGet, "/v1/instances/"+vm.ID, nil, &inst); err != nil {
			return false, nil
		}
		if inst.State == "failed" {
			return false, fmt.Errorf("instance entered failed state")
		}
		return inst.State == "running", nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to become ready: %w", err)
	}
	_ = cc.book.Update(vm.ID, func(v *types.VM) {
		v.State = types.VMStateReady
		v.LastActivity = time.Now()
	})
	return nil
}

// Inspect refreshes from the API when it answers, otherwise returns the
// cached descriptor unchanged.
func (cc *CloudCompute) Inspect(ctx context.Context, id string) (*types.VM, error) {
	cached, err := cc.book.Get(id)
	if err != nil {
		return nil, err
	}
	var inst instance
	if err := cc.client.DoJSON(ctx, http.MethodGet, "/v1/instances/"+id, nil, &inst); err != nil {
		log.WithFunc("cloudcompute.Inspect").Debugf(ctx, "refresh %s failed, returning cached: %v", id, err)
		return &cached, nil
	}
	_ = cc.book.Update(id, func(v *types.VM) {
		v.State = stateFromInstance(inst.State, v.State)
		v.LastActivity = time.Now()
	})
	fresh, err := cc.book.Get(id)
	if err != nil {
		return &cached, nil
	}
	return &fresh, nil
}

func (cc *CloudCompute) List(_ context.Context) ([]*types.VM, error) {
	return cc.book.List(), nil
}

func (cc *CloudCompute) Start(ctx context.Context, id string) error {
	return cc.action(ctx, id, "start", types.VMStateReady)
}

func (cc *CloudCompute) Stop(ctx context.Context, id string) error {
	return cc.action(ctx, id, "stop", types.VMStateStopped)
}

func (cc *CloudCompute) Restart(ctx context.Context, id string) error {
	return cc.action(ctx, id, "reboot", types.VMStateInitializing)
}

func (cc *CloudCompute) action(ctx context.Context, id, op string, st types.VMState) error {
	if _, err := cc.book.Get(id); err != nil {
		return err
	}
	err := provider.DoWithRetry(ctx, func() error {
		return cc.client.DoJSON(ctx, http.MethodPost, "/v1/instances/"+id+"/action", actionBody{Action: op}, nil)
	})
	if err != nil {
		return fmt.Errorf("instance %s: %w", op, err)
	}
	return cc.book.Update(id, func(v *types.VM) {
		v.State = st
		v.LastActivity = time.Now()
	})
}

// Delete terminates the instance and removes the bookkeeping entry.
func (cc *CloudCompute) Delete(ctx context.Context, id string) error {
	if _, err := cc.book.Get(id); err != nil {
		return err
	}
	err := cc.client.DoJSON(ctx, http.MethodDelete, "/v1/instances/"+id, nil, nil)
	if err != nil {
		var ae *provider.APIError
		if !errors.As(err, &ae) || ae.Code != http.StatusNotFound {
			log.WithFunc("cloudcompute.Delete").Warnf(ctx, "remote delete %s: %v", id, err)
		}
	}
	_, err = cc.book.Delete(id)
	return err
}

func stateFromInstance(state string, cur types.VMState) types.VMState {
	switch state {
	case "provisioning", "staging":
		return types.VMStateInitializing
	case "running":
		return types.VMStateReady
	case "stopped", "terminated":
		return types.VMStateStopped
	case "failed":
		return types.VMStateError
	default:
		return cur
	}
}
