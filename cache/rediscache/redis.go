// Package rediscache stores imageguard verdicts in Redis so that several
// processes share one cache. Importing it registers the "redis" cache driver.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobeaver/imageguard"
	"github.com/redis/go-redis/v9"
)

func init() {
	imageguard.RegisterCache("redis", func(cfg *imageguard.Config) (imageguard.VerdictCache, error) {
		return New(cfg.RedisURL)
	})
}

// Cache implements imageguard.VerdictCache on a Redis client.
type Cache struct {
	client redis.UniversalClient
}

// New connects to the server at url (redis://host:port/db).
func New(url string) (*Cache, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get implements imageguard.VerdictCache. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string) (*imageguard.ValidationResult, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	result, err := imageguard.DecodeResult(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached verdict: %w", err)
	}
	return result, true, nil
}

// Set implements imageguard.VerdictCache. A TTL of 0 keeps the entry forever.
func (c *Cache) Set(ctx context.Context, key string, result *imageguard.ValidationResult, ttl time.Duration) error {
	payload, err := imageguard.EncodeResult(result)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// Delete implements imageguard.VerdictCache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

var _ imageguard.VerdictCache = (*Cache)(nil)
