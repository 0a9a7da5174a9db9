package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"cognitivecore/internal/telemetry"
)

// RedisCache is the optional distributed backing for the embedding cache,
// adapted from the teacher's RedisSkillsCache: methods are nil-receiver
// safe so a Service can be constructed with an unconfigured cache and
// behave exactly like in-process-only, and keys are namespaced under a
// configurable prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache builds a RedisCache. A nil client is valid and makes every
// method a no-op, matching the teacher's nil-safety convention.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "emb:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get returns the cached vector for key, if present and not expired.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Set stores vector under key with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, vector []float32, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		telemetry.LoggerWithTrace(ctx).Warn().Err(err).Msg("embedding redis cache set failed")
	}
}

// Invalidate removes every cached entry under this cache's prefix, via
// Scan+Del rather than KEYS to avoid blocking a shared Redis instance.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
