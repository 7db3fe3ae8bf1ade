package builder

import (
	"context"
	"log/slog"

	"github.com/narvanalabs/mydra/internal/builder/monitor"
	"github.com/narvanalabs/mydra/internal/models"
)

// Expand adds to ws every derivation that realizing ws would build but that
// ws does not already hold, so that failures of dependencies get outcomes of
// their own. Added units have no attribute. Paths that would only be fetched
// are left out. It returns the added units, sorted.
func Expand(ctx context.Context, d monitor.DryRunner, ws models.WorkingSet, logger *slog.Logger) ([]models.BuildUnit, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(ws) == 0 {
		return nil, nil
	}

	report, err := d.DryRun(ctx, ws.Units())
	if err != nil {
		return nil, err
	}

	var added []models.BuildUnit
	for _, u := range report.ToBuild {
		if ws.Add(u) {
			added = append(added, u)
		}
	}
	models.SortUnits(added)

	logger.Info("expanded working set",
		"added", len(added),
		"to_build", len(report.ToBuild),
		"to_fetch", len(report.ToFetch),
		"units", len(ws),
	)
	return added, nil
}
