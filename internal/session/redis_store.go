package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const stateKeyPrefix = "salesdesk:turnstate:"

// RedisStore keeps session safety state in Redis so any orchestrator
// replica can pick up a session. Keys expire at the session lifetime,
// which doubles as cleanup for abandoned sessions.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: MaxLifetime}
}

func stateKey(sessionID string) string {
	return stateKeyPrefix + sessionID
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*State, error) {
	data, err := r.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &st, nil
}

func (r *RedisStore) Put(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(state.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session state: %w", err)
	}
	return nil
}

// CompareAndSwap uses a WATCH transaction so concurrent writers cannot
// clobber each other. Turns within one session are sequential, so
// conflicts only show up under operator error or replay.
func (r *RedisStore) CompareAndSwap(ctx context.Context, state *State) error {
	key := stateKey(state.SessionID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("get session state: %w", err)
		}
		if err != redis.Nil {
			var cur State
			if err := json.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("decode session state: %w", err)
			}
			if cur.Version != state.Version {
				return ErrConflict
			}
		}
		next := *state
		next.Version++
		encoded, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("encode session state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		state.Version = next.Version
		return nil
	}, key)
	if err == redis.TxFailedErr {
		return ErrConflict
	}
	return err
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, stateKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}
