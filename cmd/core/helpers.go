package core

import (
	"context"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/chromefleet/chromefleet/config"
	"github.com/chromefleet/chromefleet/lock"
	"github.com/chromefleet/chromefleet/orchestrator"
	"github.com/chromefleet/chromefleet/provider"
	"github.com/chromefleet/chromefleet/types"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// InitOrchestrator acquires the single-instance run lock and builds the
// orchestrator. The caller releases the lock when done.
func InitOrchestrator(conf *config.Config) (*orchestrator.Orchestrator, *lock.RunLock, error) {
	rl, err := lock.Acquire(conf.RunLock())
	if err != nil {
		return nil, nil, err
	}
	o, err := orchestrator.New(conf)
	if err != nil {
		_ = rl.Release()
		return nil, nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return o, rl, nil
}

// RequestFromFlags builds a CreateRequest for the create command. Sizing
// flags default to the configured per-VM profile; the target server is a
// positional argument filled in by the caller.
func RequestFromFlags(cmd *cobra.Command, conf *config.Config) (provider.CreateRequest, error) {
	id, _ := cmd.Flags().GetString("id")
	vmName, _ := cmd.Flags().GetString("name")
	memStr, _ := cmd.Flags().GetString("memory")
	cpus, _ := cmd.Flags().GetFloat64("cpus")
	storStr, _ := cmd.Flags().GetString("storage")

	profile := conf.Profile()
	if memStr != "" {
		memBytes, err := units.RAMInBytes(memStr)
		if err != nil {
			return provider.CreateRequest{}, fmt.Errorf("invalid --memory %q: %w", memStr, err)
		}
		profile.Memory = memBytes
	}
	if storStr != "" {
		storBytes, err := units.RAMInBytes(storStr)
		if err != nil {
			return provider.CreateRequest{}, fmt.Errorf("invalid --storage %q: %w", storStr, err)
		}
		profile.Storage = storBytes
	}
	if cpus > 0 {
		profile.CPUs = cpus
	}

	if vmName == "" {
		vmName = "chrome-vm"
	}

	return provider.CreateRequest{
		ID:      id,
		Name:    vmName,
		Profile: profile,
	}, nil
}

// FormatSize renders bytes human-readable for table output.
func FormatSize(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

// StateLabel renders a VM state with its degradation marker: a mock VM that
// carries a LastError is a degraded stand-in for a failed provider.
func StateLabel(vm *types.VM) string {
	if vm.Provider == types.ProviderMock && vm.LastError != "" {
		return string(vm.State) + " (degraded)"
	}
	return string(vm.State)
}
