// Package redis caches completed result sets in Redis with a TTL and
// announces completions on a pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

// CompletedChannel receives the result id of every cached result set.
const CompletedChannel = "results:completed"

// Config holds connection settings.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Cache implements crawler.ResultArchive with expiring keys.
type Cache struct {
	client *redisv8.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("archive.redis.addr is required")
	}
	client := redisv8.NewClient(&redisv8.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.TTL, logger), nil
}

// NewWithClient wraps an existing client. A zero ttl keeps keys forever.
func NewWithClient(client *redisv8.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Close closes the client.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// SaveResult stores the result and the run pointer in one transaction.
func (c *Cache) SaveResult(ctx context.Context, result crawler.ResultSet) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redisv8.Pipeliner) error {
		pipe.Set(ctx, resultKey(result.ID), payload, c.ttl)
		pipe.Set(ctx, runKey(result.RunID), result.ID, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache result %s: %w", result.ID, err)
	}
	c.announce(ctx, result.ID)
	return nil
}

// announce notifies completion listeners. Delivery is best effort.
func (c *Cache) announce(ctx context.Context, resultID string) {
	if err := c.client.Publish(ctx, CompletedChannel, resultID).Err(); err != nil {
		c.logger.Debug("publish result completion failed",
			zap.String("result_id", resultID),
			zap.String("channel", CompletedChannel),
			zap.Error(err),
		)
	}
}

// LoadResult reads a cached result.
func (c *Cache) LoadResult(ctx context.Context, resultID string) (crawler.ResultSet, error) {
	b, err := c.client.Get(ctx, resultKey(resultID)).Bytes()
	if err != nil {
		return crawler.ResultSet{}, mapErr(resultID, err)
	}
	var rs crawler.ResultSet
	if err := json.Unmarshal(b, &rs); err != nil {
		return crawler.ResultSet{}, fmt.Errorf("decode result %s: %w", resultID, err)
	}
	return rs, nil
}

// LoadResultByRun resolves the run pointer, then the result.
func (c *Cache) LoadResultByRun(ctx context.Context, runID string) (crawler.ResultSet, error) {
	resultID, err := c.client.Get(ctx, runKey(runID)).Result()
	if err != nil {
		return crawler.ResultSet{}, mapErr(runID, err)
	}
	return c.LoadResult(ctx, resultID)
}

func mapErr(id string, err error) error {
	if errors.Is(err, redisv8.Nil) {
		return fmt.Errorf("cache miss %s: %w", id, store.ErrNotFound)
	}
	return fmt.Errorf("redis get %s: %w", id, err)
}

func resultKey(id string) string { return "result:" + id }
func runKey(id string) string    { return "run-result:" + id }
