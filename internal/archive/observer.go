package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxzi/pacer/internal/campaign"
)

// Observer archives every run that ends (finished or stopped). Archive
// failures are logged and never reach the controller.
type Observer struct {
	campaign.NopObserver

	storage *Storage
	logger  *slog.Logger
	timeout time.Duration
}

// NewObserver creates an observer writing to storage
func NewObserver(storage *Storage, logger *slog.Logger) *Observer {
	return &Observer{
		storage: storage,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// OnRunEnd implements campaign.Observer
func (o *Observer) OnRunEnd(summary campaign.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	run := FromSummary(summary)
	if err := o.storage.Save(ctx, run); err != nil {
		o.logger.Error("failed to archive run", "run_id", run.ID, "error", err)
		return
	}

	o.logger.Info("run archived",
		"run_id", run.ID,
		"status", run.Status,
		"position", run.Position,
		"total", run.Total,
		"entries", len(run.Entries),
	)
}
