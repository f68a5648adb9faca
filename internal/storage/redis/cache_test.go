package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "result:fitness_1_abc", resultKey("fitness_1_abc"))
	assert.Equal(t, "run-result:run_1", runKey("run_1"))
}

func TestMapErr(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, mapErr("x", redisv8.Nil), store.ErrNotFound)

	boom := errors.New("i/o timeout")
	err := mapErr("x", boom)
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestAnnounceLogsPublishFailure(t *testing.T) {
	t.Parallel()

	client := redisv8.NewClient(&redisv8.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	core, logs := observer.New(zap.DebugLevel)
	cache := NewWithClient(client, time.Minute, zap.New(core))
	cache.announce(context.Background(), "fitness_1_abc")

	entries := logs.FilterMessage("publish result completion failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "fitness_1_abc", entries[0].ContextMap()["result_id"])
	assert.NotEmpty(t, entries[0].ContextMap()["error"])
}
