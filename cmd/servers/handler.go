package servers

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/chromefleet/chromefleet/cmd/core"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	orch, rl, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return err
	}
	defer rl.Release() //nolint:errcheck

	statuses := orch.Servers(ctx)
	if len(statuses) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		for i := range statuses {
			if err := enc.Encode(&statuses[i]); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tAVAILABLE")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\n", s.ID, s.Provider, s.Available)
	}
	w.Flush() //nolint:errcheck
	return nil
}
