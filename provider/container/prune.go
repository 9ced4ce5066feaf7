package container

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/projecteru2/core/log"
)

// listedContainer is the subset of the engine's container list entry we use.
type listedContainer struct {
	ID     string            `json:"Id"`
	Labels map[string]string `json:"Labels"`
}

// Prune removes labeled Chrome containers that have no bookkeeping entry —
// leftovers from a crashed process or an interrupted create. Returns the
// container IDs that were removed.
//
// Only containers carrying the chromefleet VM label are considered; the
// runtime may host unrelated workloads.
func (c *Container) Prune(ctx context.Context) ([]string, error) {
	logger := log.WithFunc("container.Prune")

	filters := url.QueryEscape(fmt.Sprintf(`{"label":["%s"]}`, labelVM))
	path := "/containers/json?all=true&filters=" + filters

	var listed []listedContainer
	if err := c.client.DoJSON(ctx, http.MethodGet, path, nil, &listed); err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var pruned []string
	for _, ct := range listed {
		id := ct.Labels[labelVM]
		if id == "" {
			continue
		}
		if _, err := c.book.Get(id); err == nil {
			continue // still tracked
		}
		c.removeContainer(ctx, ct.ID)
		logger.Infof(ctx, "pruned orphaned container %s (VM %s)", ct.ID, id)
		pruned = append(pruned, ct.ID)
	}
	return pruned, nil
}
