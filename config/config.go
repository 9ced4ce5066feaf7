package config

import (
	"fmt"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/go-containerregistry/pkg/name"
	coretypes "github.com/projecteru2/core/types"

	"github.com/chromefleet/chromefleet/types"
)

// ServerConfig describes one logical server: the provider that backs it and
// the credentials to reach it. Token acquisition happens outside this
// module; the token here is consumed as an opaque bearer credential.
type ServerConfig struct {
	ID       string             `json:"id"`
	Provider types.ProviderKind `json:"provider"`
	BaseURL  string             `json:"base_url"`
	Token    string             `json:"token"`
	// TimeoutSeconds overrides the provider's default request timeout.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Timeout returns the configured timeout, or fallback when unset.
func (s ServerConfig) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return fallback
}

// Config holds global chromefleet configuration.
type Config struct {
	// RunDir holds runtime state (the run lock).
	RunDir string `json:"run_dir"`

	// PortBase and PortLimit bound the host port range handed out for
	// display forwarding. PortLimit 0 means the top of the port range.
	PortBase  int `json:"port_base"`
	PortLimit int `json:"port_limit"`

	// DockerSocket is the local container runtime's API socket.
	DockerSocket string `json:"docker_socket"`
	// DockerTimeoutSeconds bounds runtime API calls.
	DockerTimeoutSeconds int `json:"docker_timeout_seconds"`

	// ChromeImage is the container image run for local Chrome VMs.
	ChromeImage string `json:"chrome_image"`
	// Memory, CPUs and Storage are the fixed per-VM resource limits.
	// Memory and Storage accept human sizes ("2GB", "512MB").
	Memory  string  `json:"memory"`
	CPUs    float64 `json:"cpus"`
	Storage string  `json:"storage"`

	// ReadyAttempts and ReadyIntervalSeconds bound the container readiness
	// poll.
	ReadyAttempts        int `json:"ready_attempts"`
	ReadyIntervalSeconds int `json:"ready_interval_seconds"`

	// MockDelaySeconds is the simulated provisioning latency of mock VMs.
	MockDelaySeconds int `json:"mock_delay_seconds"`

	// Servers lists the logical servers VMs can be placed on.
	Servers []ServerConfig `json:"servers"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log"`

	memBytes     int64
	storageBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RunDir:               "/var/run/chromefleet",
		PortBase:             15900,
		PortLimit:            0,
		DockerSocket:         "/var/run/docker.sock",
		DockerTimeoutSeconds: 30,
		ChromeImage:          "chromefleet/chrome-vm:latest",
		Memory:               "2GB",
		CPUs:                 1,
		Storage:              "4GB",
		ReadyAttempts:        30,
		ReadyIntervalSeconds: 1,
		MockDelaySeconds:     2,
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Validate checks the config and resolves parsed values. Must be called
// before the sizing accessors.
func (c *Config) Validate() error {
	if _, err := name.ParseReference(c.ChromeImage); err != nil {
		return fmt.Errorf("invalid chrome_image %q: %w", c.ChromeImage, err)
	}
	mem, err := units.RAMInBytes(c.Memory)
	if err != nil {
		return fmt.Errorf("invalid memory %q: %w", c.Memory, err)
	}
	stor, err := units.RAMInBytes(c.Storage)
	if err != nil {
		return fmt.Errorf("invalid storage %q: %w", c.Storage, err)
	}
	c.memBytes = mem
	c.storageBytes = stor

	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		switch s.Provider {
		case types.ProviderContainer, types.ProviderMock:
		case types.ProviderEdgeWorker, types.ProviderCloudCompute, types.ProviderPlatformProxy:
			if s.BaseURL == "" {
				return fmt.Errorf("server %q: %s provider requires base_url", s.ID, s.Provider)
			}
		default:
			return fmt.Errorf("server %q: unknown provider %q", s.ID, s.Provider)
		}
	}
	return nil
}

// MemoryBytes returns the parsed per-VM memory ceiling.
func (c *Config) MemoryBytes() int64 { return c.memBytes }

// StorageBytes returns the parsed per-VM storage size.
func (c *Config) StorageBytes() int64 { return c.storageBytes }

// Profile returns the fixed per-VM resource profile.
func (c *Config) Profile() types.ResourceProfile {
	return types.ResourceProfile{
		Memory:  c.memBytes,
		CPUs:    c.CPUs,
		Storage: c.storageBytes,
	}
}

// ReadyInterval returns the readiness poll spacing.
func (c *Config) ReadyInterval() time.Duration {
	return time.Duration(c.ReadyIntervalSeconds) * time.Second
}

// MockDelay returns the simulated mock provisioning latency.
func (c *Config) MockDelay() time.Duration {
	return time.Duration(c.MockDelaySeconds) * time.Second
}

// DockerTimeout returns the runtime API call timeout.
func (c *Config) DockerTimeout() time.Duration {
	return time.Duration(c.DockerTimeoutSeconds) * time.Second
}

// RunLock returns the path of the single-instance run lock.
func (c *Config) RunLock() string {
	return filepath.Join(c.RunDir, "chromefleet.lock")
}
