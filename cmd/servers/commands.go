package servers

import "github.com/spf13/cobra"

// Actions defines server registry operations.
type Actions interface {
	List(cmd *cobra.Command, args []string) error
}

// Command builds the "servers" command.
func Command(h Actions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers and probe their availability",
		RunE:  h.List,
	}
}
