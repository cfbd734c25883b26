package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/MrSnakeDoc/fedcheck/internal/sources/roomversions"
)

// TableReloader periodically re-reads the room-version table, and on demand
// through the manual trigger channel
type TableReloader struct {
	provider      *roomversions.Provider
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewTableReloader creates a new table reloader
func NewTableReloader(
	provider *roomversions.Provider,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *TableReloader {
	return &TableReloader{
		provider:      provider,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic reload process. The provider already holds a
// table, so there is no initial load.
func (tr *TableReloader) Start(ctx context.Context) error {
	ticker := time.NewTicker(tr.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tr.Reload()
			case <-tr.manualTrigger:
				tr.logger.Info("manual reload triggered")
				tr.Reload()
			case <-tr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (tr *TableReloader) Stop() {
	close(tr.stopCh)
}

// Reload re-reads the table. On failure the previous table stays in use.
func (tr *TableReloader) Reload() {
	if err := tr.provider.Reload(); err != nil {
		tr.logger.Error("failed to reload room versions table",
			logger.String("source", tr.provider.Source()),
			logger.Error(err))
		return
	}
	table := tr.provider.Current()
	tr.logger.Info("room versions table reloaded",
		logger.String("source", tr.provider.Source()),
		logger.String("updated", table.Updated),
		logger.Int("room_versions", len(table.RoomVersions)))
}
