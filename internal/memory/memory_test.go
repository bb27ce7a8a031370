package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStore(client, zap.NewNop())
}

func TestHistoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := store.AppendHistory(ctx, "sess-1",
		Message{Role: "user", Content: "hi", Timestamp: now},
		Message{Role: "assistant", Content: "hello", Timestamp: now},
	)
	require.NoError(t, err)

	msgs, err := store.LoadHistory(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestLoadHistoryReturnsMostRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		err := store.AppendHistory(ctx, "sess-1",
			Message{Role: "user", Content: fmt.Sprintf("turn %d", i), Timestamp: time.Now()})
		require.NoError(t, err)
	}

	msgs, err := store.LoadHistory(ctx, "sess-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "turn 3", msgs[0].Content)
	assert.Equal(t, "turn 5", msgs[2].Content)
}

func TestHistoryIsTrimmed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < maxStoredMessages+10; i++ {
		err := store.AppendHistory(ctx, "sess-1",
			Message{Role: "user", Content: fmt.Sprintf("turn %d", i), Timestamp: time.Now()})
		require.NoError(t, err)
	}

	msgs, err := store.LoadHistory(ctx, "sess-1", maxStoredMessages*2)
	require.NoError(t, err)
	assert.Len(t, msgs, maxStoredMessages)
	assert.Equal(t, "turn 10", msgs[0].Content)
}

func TestEmptyHistory(t *testing.T) {
	store := newTestStore(t)

	msgs, err := store.LoadHistory(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProfileMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.LoadProfile(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = store.MergeProfile(ctx, "sess-1", Profile{"name": "Ada", "company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p["name"])

	p, err = store.MergeProfile(ctx, "sess-1", Profile{"company": "Initech", "role": "CTO"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p["name"])
	assert.Equal(t, "Initech", p["company"])
	assert.Equal(t, "CTO", p["role"])
}

func TestClearDropsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendHistory(ctx, "sess-1",
		Message{Role: "user", Content: "hi", Timestamp: time.Now()}))
	_, err := store.MergeProfile(ctx, "sess-1", Profile{"name": "Ada"})
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "sess-1"))

	msgs, err := store.LoadHistory(ctx, "sess-1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	p, err := store.LoadProfile(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, p)
}
