package vm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/chromefleet/chromefleet/cmd/core"
	"github.com/chromefleet/chromefleet/orchestrator"
	"github.com/chromefleet/chromefleet/types"
	"github.com/chromefleet/chromefleet/utils"
)

type Handler struct {
	cmdcore.BaseHandler
}

// initOrch is the shared init for all handlers: context, config and a
// locked orchestrator. The returned release func drops the run lock.
func (h Handler) initOrch(cmd *cobra.Command) (context.Context, *orchestrator.Orchestrator, func(), error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	orch, rl, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, orch, func() { _ = rl.Release() }, nil
}

func (h Handler) Create(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	orch, rl, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return err
	}
	defer rl.Release() //nolint:errcheck

	req, err := cmdcore.RequestFromFlags(cmd, conf)
	if err != nil {
		return err
	}
	req.ServerID = args[0]

	vm, err := orch.CreateVM(ctx, req)
	if err != nil {
		return fmt.Errorf("create VM: %w", err)
	}

	logger := log.WithFunc("cmd.create")
	logger.Infof(ctx, "VM created: %s (name: %s, provider: %s, state: %s)", vm.ID, vm.Name, vm.Provider, vm.State)
	if vm.LastError != "" {
		logger.Warnf(ctx, "degraded: %s", vm.LastError)
	}

	if wait, _ := cmd.Flags().GetBool("wait"); wait {
		vm, err = waitSettled(ctx, orch, vm.ID, conf.ReadyAttempts+10, conf.ReadyInterval())
		if err != nil {
			return err
		}
		logger.Infof(ctx, "VM %s settled: %s", vm.ID, vm.State)
	}

	return printJSON(vm)
}

// waitSettled polls until the VM leaves the initializing state.
func waitSettled(ctx context.Context, orch *orchestrator.Orchestrator, id string, attempts int, interval time.Duration) (*types.VM, error) {
	var vm *types.VM
	err := utils.Poll(ctx, attempts, interval, func() (bool, error) {
		var err error
		vm, err = orch.GetVM(ctx, id)
		if err != nil {
			return false, err
		}
		return vm.State != types.VMStateInitializing, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait for VM %s: %w", id, err)
	}
	return vm, nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, orch, release, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	defer release()

	vms := orch.ListVMs(ctx)
	if len(vms) == 0 {
		fmt.Println("No VMs found.")
		return nil
	}

	sort.Slice(vms, func(i, j int) bool { return vms[i].CreatedAt.Before(vms[j].CreatedAt) })

	// Pipelines get JSON lines; humans get a table.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		for i := range vms {
			if err := enc.Encode(&vms[i]); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSERVER\tPROVIDER\tSTATE\tMEMORY\tDISPLAY\tCREATED")
	for i := range vms {
		vm := &vms[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			vm.ID,
			vm.Name,
			vm.ServerID,
			vm.Provider,
			cmdcore.StateLabel(vm),
			cmdcore.FormatSize(vm.Resources.Memory),
			vm.DisplayURL,
			vm.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, orch, release, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	defer release()

	vm, err := orch.GetVM(ctx, args[0])
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	return printJSON(vm)
}

func (h Handler) Start(cmd *cobra.Command, args []string) error {
	return h.operate(cmd, args[0], "start", (*orchestrator.Orchestrator).StartVM)
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	return h.operate(cmd, args[0], "stop", (*orchestrator.Orchestrator).StopVM)
}

func (h Handler) Restart(cmd *cobra.Command, args []string) error {
	return h.operate(cmd, args[0], "restart", (*orchestrator.Orchestrator).RestartVM)
}

func (h Handler) operate(cmd *cobra.Command, id, op string, call func(*orchestrator.Orchestrator, context.Context, string) (*types.VM, error)) error {
	ctx, orch, release, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	defer release()

	vm, err := call(orch, ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.WithFunc("cmd."+op).Infof(ctx, "VM %s: %s", vm.ID, vm.State)
	return nil
}

// RM deletes VMs best-effort: every ID is attempted and failures are
// reported together.
func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, orch, release, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	defer release()

	logger := log.WithFunc("cmd.rm")
	var errs []error
	for _, id := range args {
		if err := orch.DeleteVM(ctx, id); err != nil {
			logger.Warnf(ctx, "delete VM %s: %v", id, err)
			errs = append(errs, fmt.Errorf("VM %s: %w", id, err))
			continue
		}
		logger.Infof(ctx, "deleted VM: %s", id)
	}
	return errors.Join(errs...)
}

func (h Handler) Prune(cmd *cobra.Command, _ []string) error {
	ctx, orch, release, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	defer release()

	pruned, err := orch.Prune(ctx)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	logger := log.WithFunc("cmd.prune")
	for _, id := range pruned {
		logger.Infof(ctx, "pruned: %s", id)
	}
	if len(pruned) == 0 {
		logger.Info(ctx, "nothing to prune")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
