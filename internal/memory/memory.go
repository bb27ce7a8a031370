// Package memory persists conversational context between turns: the
// rolling message history and the accumulated user profile. Both live
// in Redis keyed by session so workers on any node see the same view.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	historyKeyPrefix = "salesdesk:history:"
	profileKeyPrefix = "salesdesk:profile:"

	// maxStoredMessages bounds the per-session history list.
	maxStoredMessages = 50

	// DefaultHistoryWindow is how many recent messages a turn carries
	// to workers when the caller does not ask for more.
	DefaultHistoryWindow = 10

	memoryTTL = 24 * time.Hour
)

// Message is one utterance in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile is the accumulated facts about the user, merged across turns
// by whichever worker extracts them.
type Profile map[string]interface{}

// Store reads and writes session memory.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// NewStore wraps an existing Redis client.
func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

// LoadHistory returns up to limit most recent messages, oldest first.
func (s *Store) LoadHistory(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	raw, err := s.client.LRange(ctx, historyKeyPrefix+sessionID, int64(-limit), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			s.logger.Warn("skipping undecodable history entry",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AppendHistory pushes messages onto the session history and trims it
// to the stored bound.
func (s *Store) AppendHistory(ctx context.Context, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := historyKeyPrefix + sessionID
	encoded := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		encoded = append(encoded, data)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded...)
	pipe.LTrim(ctx, key, int64(-maxStoredMessages), -1)
	pipe.Expire(ctx, key, memoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// LoadProfile returns the stored profile, or an empty one if the
// session has none yet.
func (s *Store) LoadProfile(ctx context.Context, sessionID string) (Profile, error) {
	data, err := s.client.Get(ctx, profileKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

// MergeProfile folds updates into the stored profile and writes it
// back. Existing keys are overwritten by updates; absent keys survive.
func (s *Store) MergeProfile(ctx context.Context, sessionID string, updates Profile) (Profile, error) {
	if len(updates) == 0 {
		return s.LoadProfile(ctx, sessionID)
	}
	current, err := s.LoadProfile(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		current[k] = v
	}
	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := s.client.Set(ctx, profileKeyPrefix+sessionID, data, memoryTTL).Err(); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return current, nil
}

// Clear drops all memory for a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, historyKeyPrefix+sessionID, profileKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("clear session memory: %w", err)
	}
	return nil
}
