package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "pulse/pkg/domain-errors"
)

// snapshotTTL bounds how long an idle entity's counters survive in Redis.
// Snapshots are continuously overwritten by live traffic; the TTL only
// reclaims entities that went quiet.
const snapshotTTL = 2 * time.Hour

// RedisStore implements optimistic concurrency with a WATCH/MULTI
// transaction: the key is watched during the read, and the write aborts if
// another client touched it first.
type RedisStore struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed snapshot store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(entityType, entityID string) string {
	return "pulse:realtime:" + entityType + ":" + entityID
}

// UpdateTx performs one optimistic read-modify-write attempt.
func (s *RedisStore) UpdateTx(ctx context.Context, entityType, entityID string, apply func(*Snapshot)) error {
	key := redisKey(entityType, entityID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var snap Snapshot
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			snap = Snapshot{EntityType: entityType, EntityID: entityID}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &snap); err != nil {
				// A corrupt snapshot is counter data, not history; start over.
				snap = Snapshot{EntityType: entityType, EntityID: entityID}
			}
		}

		apply(&snap)

		payload, err := json.Marshal(&snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, snapshotTTL)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "update snapshot")
	}
	return nil
}

// Get returns the current snapshot for the entity, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, entityType, entityID string) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, redisKey(entityType, entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "get snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode snapshot")
	}
	return &snap, nil
}
