package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCachePrefix namespaces cached catalog pages in Redis.
const DefaultCachePrefix = "oil:catalog:"

// Cache stores encoded catalog pages by cursor.
type Cache interface {
	Get(ctx context.Context, cursor string) ([]byte, bool, error)
	Set(ctx context.Context, cursor string, page []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis string keys with a TTL.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache creates a RedisCache. An empty prefix uses DefaultCachePrefix.
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(cursor string) string {
	if cursor == "" {
		return c.prefix + "first"
	}
	return c.prefix + "cursor:" + cursor
}

func (c *RedisCache) Get(ctx context.Context, cursor string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(cursor)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog cache get: %w", err)
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, cursor string, page []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(cursor), page, ttl).Err(); err != nil {
		return fmt.Errorf("catalog cache set: %w", err)
	}
	return nil
}
