package goals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/affiliate/internal/logger"
)

// DefaultRedisCacheKey is the key holding the cached active goals
const DefaultRedisCacheKey = "affiliate:goals:active"

// redisOpTimeout bounds each cache round trip; a slow cache must not stall tracking
const redisOpTimeout = 500 * time.Millisecond

// RedisGoalsCache shares the active goals list between server instances.
// The list is stored as one JSON value; TTL maps to key expiry. Redis
// failures degrade to cache misses.
type RedisGoalsCache struct {
	client redis.UniversalClient
	key    string
	config CacheConfig
}

// NewRedisGoalsCache creates a cache storing goals under key
func NewRedisGoalsCache(client redis.UniversalClient, key string, config CacheConfig) *RedisGoalsCache {
	if key == "" {
		key = DefaultRedisCacheKey
	}
	return &RedisGoalsCache{client: client, key: key, config: config}
}

// Get returns nil on a miss or any Redis error
func (c *RedisGoalsCache) Get() []*Goal {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("goal cache read failed", "key", c.key, "error", err)
		}
		return nil
	}

	var goals []*Goal
	if err := json.Unmarshal(data, &goals); err != nil {
		logger.Warn("goal cache holds invalid data", "key", c.key, "error", err)
		return nil
	}
	if goals == nil {
		goals = []*Goal{}
	}
	return goals
}

// Set stores goals with the configured TTL
func (c *RedisGoalsCache) Set(goals []*Goal) {
	if goals == nil {
		goals = []*Goal{}
	}
	data, err := json.Marshal(goals)
	if err != nil {
		logger.Error("failed to encode goals for cache", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key, data, c.config.TTL).Err(); err != nil {
		logger.Warn("goal cache write failed", "key", c.key, "error", err)
	}
}

// Invalidate deletes the cached list
func (c *RedisGoalsCache) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		logger.Warn("goal cache invalidation failed", "key", c.key, "error", err)
	}
}

// IsValid reports whether the key currently exists
func (c *RedisGoalsCache) IsValid() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, c.key).Result()
	return err == nil && n == 1
}
