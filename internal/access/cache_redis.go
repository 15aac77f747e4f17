package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared cache backend for multi-instance deployments.
// Expiry is delegated to Redis; CleanupExpired is a no-op because the server
// reclaims lapsed keys itself.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("access: redis get: %w", err)
	}
	return payload, true, nil
}

// Set stores value under key for the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("access: redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("access: redis del: %w", err)
	}
	return nil
}

// DeletePattern removes every key with the given prefix using SCAN so large
// keyspaces are walked without blocking the server.
func (c *RedisCache) DeletePattern(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 256 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("access: redis pattern del: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("access: redis scan: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("access: redis pattern del: %w", err)
		}
	}
	return nil
}

// CleanupExpired is a no-op; Redis expires keys server-side.
func (c *RedisCache) CleanupExpired(context.Context) (int, error) {
	return 0, nil
}
