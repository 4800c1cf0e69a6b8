package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mailflow:tracker:"

// RedisCache is a redis-backed dedup cache. Keys expire with the tracker
// retention window, so the cache never outlives the durable entry it mirrors.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects a cache to the given redis URL
// (e.g. redis://localhost:6379/0).
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check tracker cache: %w", err)
	}

	return n > 0, nil
}

func (c *RedisCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	err := c.client.SetNX(ctx, redisKeyPrefix+key, "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to mark tracker cache: %w", err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
