package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/index"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
)

const (
	// DefaultGCThreshold is how long a room may stay unused before its
	// session is dropped
	DefaultGCThreshold = 7 * 24 * time.Hour
)

// RoomForgetter drops a room from memory and persistence.
type RoomForgetter interface {
	Forget(ctx context.Context, room string) error
}

// GarbageCollector drops the sessions of rooms nobody asked about for
// longer than the threshold
type GarbageCollector struct {
	index     *index.MemoryIndex
	forgetter RoomForgetter
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	stopCh    chan struct{}
	now       func() time.Time
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(
	idx *index.MemoryIndex,
	forgetter RoomForgetter,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *GarbageCollector {
	if threshold == 0 {
		threshold = DefaultGCThreshold
	}

	return &GarbageCollector{
		index:     idx,
		forgetter: forgetter,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins the periodic garbage collection process
func (gc *GarbageCollector) Start(ctx context.Context) error {
	// Run immediately on start
	if err := gc.Collect(ctx); err != nil {
		gc.logger.Warn("initial garbage collection failed",
			logger.Error(err))
	}

	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := gc.Collect(ctx); err != nil {
					gc.logger.Error("garbage collection failed",
						logger.Error(err))
				}
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the garbage collector
func (gc *GarbageCollector) Stop() {
	close(gc.stopCh)
}

// Collect forgets every room idle for longer than the threshold
func (gc *GarbageCollector) Collect(ctx context.Context) error {
	now := gc.now()
	idle := gc.index.IdleSince(now.Add(-gc.threshold))
	if len(idle) == 0 {
		gc.logger.Debug("no idle rooms to garbage collect")
		return nil
	}

	deleted := 0
	for _, room := range idle {
		// Persistence is best effort; the session is gone either way.
		if err := gc.forgetter.Forget(ctx, room); err != nil {
			gc.logger.Warn("failed to delete room snapshot",
				logger.String("room", room),
				logger.Error(err))
		}
		deleted++
	}

	gc.logger.Info("garbage collection completed",
		logger.Int("rooms_deleted", deleted),
		logger.Duration("idle_threshold", gc.threshold))
	return nil
}
