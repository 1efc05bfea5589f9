package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/airquality-alerts/internal/protocol"
)

// LatestKey is the Redis key holding the most recent snapshot
const LatestKey = "snapshot:latest"

// Store keeps the latest snapshot in Redis
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a new snapshot store. Snapshots expire after ttl so a
// stalled collector is visible to readers.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redisClient, ttl: ttl}
}

// Save replaces the latest snapshot
func (s *Store) Save(ctx context.Context, snap *protocol.PollSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.redis.Set(ctx, LatestKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in Redis: %w", err)
	}

	return nil
}

// Latest returns the latest snapshot, or nil if none is stored
func (s *Store) Latest(ctx context.Context) (*protocol.PollSnapshot, error) {
	data, err := s.redis.Get(ctx, LatestKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	snap, err := protocol.DecodePollSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snap, nil
}

// Clear removes the latest snapshot
func (s *Store) Clear(ctx context.Context) error {
	return s.redis.Del(ctx, LatestKey).Err()
}
