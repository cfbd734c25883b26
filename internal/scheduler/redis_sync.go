package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/index"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
)

// RoomSource lists persisted room snapshots.
type RoomSource interface {
	GetAllRooms(ctx context.Context) (map[string]domain.Snapshot, error)
}

// RoomRestorer loads one snapshot into its room session.
type RoomRestorer interface {
	Restore(room string, snap domain.Snapshot) int
}

// RedisSyncer restores room snapshots from Redis into memory on startup
type RedisSyncer struct {
	store    RoomSource
	restorer RoomRestorer
	index    *index.MemoryIndex
	logger   logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(
	store RoomSource,
	restorer RoomRestorer,
	idx *index.MemoryIndex,
	log logger.Logger,
) *RedisSyncer {
	return &RedisSyncer{
		store:    store,
		restorer: restorer,
		index:    idx,
		logger:   log,
	}
}

// Sync loads every persisted room into its session. Rooms already tested
// since startup are left alone.
func (rs *RedisSyncer) Sync(ctx context.Context) error {
	rs.logger.Info("restoring room snapshots from redis")

	rooms, err := rs.store.GetAllRooms(ctx)
	if err != nil {
		return err
	}

	if len(rooms) == 0 {
		rs.logger.Info("no room snapshots found in redis")
		rs.index.MarkRestored(time.Now())
		return nil
	}

	restored, outcomes := 0, 0
	for room, snap := range rooms {
		if _, live := rs.index.Get(room); live {
			continue
		}
		if n := rs.restorer.Restore(room, snap); n > 0 {
			restored++
			outcomes += n
		}
	}
	rs.index.MarkRestored(time.Now())

	rs.logger.Info("restored room snapshots from redis",
		logger.Int("rooms", restored),
		logger.Int("outcomes", outcomes))

	return nil
}
