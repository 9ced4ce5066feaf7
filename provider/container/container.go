package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/chromefleet/chromefleet/config"
	"github.com/chromefleet/chromefleet/ports"
	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
	"github.com/chromefleet/chromefleet/utils"
)

const (
	// displayPort and debugPort are the in-container ports of the
	// remote-display server and the Chrome debug endpoint.
	displayPort = "6080/tcp"
	debugPort   = "9222/tcp"

	labelVM     = "chromefleet.vm"
	labelServer = "chromefleet.server"

	probeTimeout = time.Second
)

// Container provisions Chrome VMs as sandboxed containers on the local
// container runtime, reached through its REST API on a Unix socket. Each VM
// gets a host port pair from the allocator: one for the remote display, one
// for the debug/control endpoint.
type Container struct {
	client *provider.Client
	alloc  *ports.Allocator
	book   *provider.Book
	image  string
	mem    int64
	cpus   float64

	readyAttempts int
	readyInterval time.Duration

	// probe issues readiness requests against the debug host port.
	probe *http.Client
}

// New creates the container provider from config.
func New(conf *config.Config, alloc *ports.Allocator) *Container {
	client := &provider.Client{
		BaseURL: "http://docker",
		HTTP:    provider.NewSocketHTTPClient(conf.DockerSocket, conf.DockerTimeout()),
	}
	return newWithClient(conf, alloc, client)
}

func newWithClient(conf *config.Config, alloc *ports.Allocator, client *provider.Client) *Container {
	return &Container{
		client:        client,
		alloc:         alloc,
		book:          provider.NewBook(),
		image:         conf.ChromeImage,
		mem:           conf.MemoryBytes(),
		cpus:          conf.CPUs,
		readyAttempts: conf.ReadyAttempts,
		readyInterval: conf.ReadyInterval(),
		probe:         &http.Client{Timeout: probeTimeout},
	}
}

func (c *Container) Kind() types.ProviderKind { return types.ProviderContainer }

// Available pings the runtime. The probe is authoritative: a local socket
// that does not answer means containers cannot be created, so any error maps
// to unavailable.
func (c *Container) Available(ctx context.Context) bool {
	if err := c.client.Ping(ctx, "/_ping", false); err != nil {
		log.WithFunc("container.Available").Warnf(ctx, "runtime probe failed: %v", err)
		return false
	}
	return true
}

// createBody is the subset of the engine's container create request we use.
type createBody struct {
	Image        string              `json:"Image"`
	Labels       map[string]string   `json:"Labels"`
	Env          []string            `json:"Env"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts"`
	HostConfig   hostConfig          `json:"HostConfig"`
}

type hostConfig struct {
	Memory       int64                    `json:"Memory"`
	NanoCPUs     int64                    `json:"NanoCpus"`
	PortBindings map[string][]portBinding `json:"PortBindings"`
}

type portBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

type createResponse struct {
	ID string `json:"Id"`
}

// Create allocates a host port pair, creates the container and starts it.
// If the start call fails the container is removed and both ports released,
// so an error never leaves an orphaned backend resource.
func (c *Container) Create(ctx context.Context, req provider.CreateRequest) (*types.VM, error) {
	display, err := c.alloc.Allocate()
	if err != nil {
		return nil, err
	}
	debug, err := c.alloc.Allocate()
	if err != nil {
		c.alloc.Release(display)
		return nil, err
	}

	release := func() {
		c.alloc.Release(display)
		c.alloc.Release(debug)
	}

	body := createBody{
		Image: c.image,
		Labels: map[string]string{
			labelVM:     req.ID,
			labelServer: req.ServerID,
		},
		Env: []string{
			"CHROME_REMOTE_DEBUGGING_PORT=9222",
			"DISPLAY_NAME=" + req.Name,
		},
		ExposedPorts: map[string]struct{}{
			displayPort: {},
			debugPort:   {},
		},
		HostConfig: hostConfig{
			Memory:   c.mem,
			NanoCPUs: int64(c.cpus * 1e9),
			PortBindings: map[string][]portBinding{
				displayPort: {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", display)}},
				debugPort:   {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", debug)}},
			},
		},
	}

	var created createResponse
	path := fmt.Sprintf("/containers/create?name=chrome-%s", req.ID)
	if err := c.client.DoJSON(ctx, http.MethodPost, path, body, &created); err != nil {
		release()
		return nil, fmt.Errorf("container create: %w", err)
	}

	startPath := fmt.Sprintf("/containers/%s/start", created.ID)
	if err := c.client.DoJSON(ctx, http.MethodPost, startPath, nil, nil); err != nil {
		c.removeContainer(ctx, created.ID)
		release()
		return nil, fmt.Errorf("container start: %w", err)
	}

	now := time.Now()
	vm := &types.VM{
		ID:           req.ID,
		Name:         req.Name,
		Provider:     types.ProviderContainer,
		State:        types.VMStateInitializing,
		Handle:       created.ID,
		DisplayURL:   fmt.Sprintf("http://127.0.0.1:%d/vnc.html", display),
		ControlURL:   fmt.Sprintf("http://127.0.0.1:%d", debug),
		Port:         display,
		DebugPort:    debug,
		ServerID:     req.ServerID,
		CreatedAt:    now,
		LastActivity: now,
		Resources:    req.Profile,
	}
	c.book.Put(vm)
	return vm, nil
}

// Ready probes the debug endpoint until Chrome answers, with a bounded
// attempt count. Exhausting the attempts is reported as a readiness failure.
func (c *Container) Ready(ctx context.Context, vm *types.VM) error {
	url := vm.ControlURL + "/json/version"
	err := utils.Poll(ctx, c.readyAttempts, c.readyInterval, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := c.probe.Do(req)
		if err != nil {
			return false, nil // not up yet
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to become ready: %w", err)
	}
	_ = c.book.Update(vm.ID, func(v *types.VM) {
		v.State = types.VMStateReady
		v.LastActivity = time.Now()
	})
	return nil
}

func (c *Container) Inspect(_ context.Context, id string) (*types.VM, error) {
	vm, err := c.book.Get(id)
	if err != nil {
		return nil, err
	}
	return &vm, nil
}

func (c *Container) List(_ context.Context) ([]*types.VM, error) {
	return c.book.List(), nil
}

// Start, Stop and Restart are no-ops: container VMs are created fresh per
// request and torn down on delete. The orchestrator returns the current
// descriptor unchanged.
func (c *Container) Start(_ context.Context, id string) error   { return c.exists(id) }
func (c *Container) Stop(_ context.Context, id string) error    { return c.exists(id) }
func (c *Container) Restart(_ context.Context, id string) error { return c.exists(id) }

func (c *Container) exists(id string) error {
	_, err := c.book.Get(id)
	return err
}

// Delete force-removes the backing container, drops the bookkeeping entry
// and releases the port pair. Backend removal is best-effort: a runtime that
// already lost the container must not leave the entry (or its ports) stuck.
func (c *Container) Delete(ctx context.Context, id string) error {
	vm, err := c.book.Delete(id)
	if err != nil {
		return err
	}
	if vm.Handle != "" {
		c.removeContainer(ctx, vm.Handle)
	}
	if vm.Port != 0 {
		c.alloc.Release(vm.Port)
	}
	if vm.DebugPort != 0 {
		c.alloc.Release(vm.DebugPort)
	}
	return nil
}

// removeContainer issues a force remove, tolerating an already-gone
// container.
func (c *Container) removeContainer(ctx context.Context, handle string) {
	path := fmt.Sprintf("/containers/%s?force=true", handle)
	err := c.client.DoJSON(ctx, http.MethodDelete, path, nil, nil)
	if err == nil {
		return
	}
	var ae *provider.APIError
	if errors.As(err, &ae) && ae.Code == http.StatusNotFound {
		return
	}
	log.WithFunc("container.removeContainer").Warnf(ctx, "remove %s: %v", handle, err)
}
