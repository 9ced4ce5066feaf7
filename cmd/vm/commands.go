package vm

import "github.com/spf13/cobra"

// Actions defines VM lifecycle operations.
type Actions interface {
	Create(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
	Start(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	Restart(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
	Prune(cmd *cobra.Command, args []string) error
}

// Command builds the "vm" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Manage Chrome VMs",
	}

	createCmd := &cobra.Command{
		Use:   "create [flags] SERVER",
		Short: "Create a Chrome VM on a logical server",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Create,
	}
	createCmd.Flags().String("id", "", "VM ID (generated when empty)")
	createCmd.Flags().String("name", "", "display name")
	createCmd.Flags().String("memory", "", "memory ceiling (default from config)")
	createCmd.Flags().Float64("cpus", 0, "CPU share (default from config)")
	createCmd.Flags().String("storage", "", "storage size (default from config)")
	createCmd.Flags().Bool("wait", false, "wait until the VM leaves the initializing state")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List VMs with status",
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect VM",
		Short: "Show detailed VM info (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	startCmd := &cobra.Command{
		Use:   "start VM",
		Short: "Start a stopped VM (remote providers)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Start,
	}

	stopCmd := &cobra.Command{
		Use:   "stop VM",
		Short: "Stop a running VM (remote providers)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Stop,
	}

	restartCmd := &cobra.Command{
		Use:   "restart VM",
		Short: "Restart a VM (remote providers)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Restart,
	}

	rmCmd := &cobra.Command{
		Use:   "rm VM [VM...]",
		Short: "Delete VM(s) and release their resources",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove orphaned local containers",
		RunE:  h.Prune,
	}

	vmCmd.AddCommand(
		createCmd,
		listCmd,
		inspectCmd,
		startCmd,
		stopCmd,
		restartCmd,
		rmCmd,
		pruneCmd,
	)
	return vmCmd
}
