package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
)

// DefaultRoomTTL is how long a room snapshot survives without writes
const DefaultRoomTTL = 7 * 24 * time.Hour

// Store persists room snapshots: one hash per room, field = server name,
// value = JSON record.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStore creates a new Redis store. A non-positive ttl selects
// DefaultRoomTTL.
func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveOutcome writes one server's latest outcome into the room hash
func (s *Store) SaveOutcome(ctx context.Context, room string, o domain.Outcome) error {
	data, err := json.Marshal(domain.ToRecord(o))
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	key := RoomKey(room)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, o.Server, data)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, AllRoomsKey(), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// ReplaceRoom overwrites the whole snapshot of a room
func (s *Store) ReplaceRoom(ctx context.Context, room string, snap domain.Snapshot) error {
	if len(snap) == 0 {
		return s.DeleteRoom(ctx, room)
	}

	values := make([]interface{}, 0, 2*len(snap))
	for server, rec := range snap {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", server, err)
		}
		values = append(values, server, data)
	}

	key := RoomKey(room)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, AllRoomsKey(), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room snapshot. Fields that do not decode are skipped.
// A room with no hash yields an empty snapshot.
func (s *Store) GetRoom(ctx context.Context, room string) (domain.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, RoomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	snap := make(domain.Snapshot, len(fields))
	for server, data := range fields {
		var rec domain.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		snap[server] = rec
	}
	return snap, nil
}

// GetAllRooms retrieves every persisted room. Room IDs whose hash has
// expired are removed from the room set.
func (s *Store) GetAllRooms(ctx context.Context) (map[string]domain.Snapshot, error) {
	rooms, err := s.client.SMembers(ctx, AllRoomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room IDs: %w", err)
	}

	out := make(map[string]domain.Snapshot, len(rooms))
	for _, room := range rooms {
		snap, err := s.GetRoom(ctx, room)
		if err != nil {
			return nil, err
		}
		if len(snap) == 0 {
			if err := s.client.SRem(ctx, AllRoomsKey(), room).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune expired room: %w", err)
			}
			continue
		}
		out[room] = snap
	}
	return out, nil
}

// DeleteRoom removes a room snapshot
func (s *Store) DeleteRoom(ctx context.Context, room string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, RoomKey(room))
		pipe.SRem(ctx, AllRoomsKey(), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}
