package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProductCache memoises product listings. Invalidate drops every cached
// listing at once.
type ProductCache interface {
	Load(ctx context.Context, key string, load func() ([]Product, error)) ([]Product, error)
	Invalidate(ctx context.Context) error
}

// NoopProductCache always calls through to the loader.
type NoopProductCache struct{}

func (NoopProductCache) Load(ctx context.Context, key string, load func() ([]Product, error)) ([]Product, error) {
	return load()
}

func (NoopProductCache) Invalidate(ctx context.Context) error {
	return nil
}

// RedisProductCache stores listings under a generation counter. Invalidate
// increments the generation so older entries are never read again and expire
// on their TTL.
type RedisProductCache struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

func NewRedisProductCache(client *redis.Client, serviceName string, ttl time.Duration) *RedisProductCache {
	return &RedisProductCache{
		client:      client,
		serviceName: serviceName,
		ttl:         ttl,
	}
}

func (c *RedisProductCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.serviceName, operation, key)
}

func (c *RedisProductCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.GenerateKey("catalog", "generation")).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Load reads the generation once so a listing loaded before an invalidation
// is never stored under the newer generation.
func (c *RedisProductCache) Load(ctx context.Context, key string, load func() ([]Product, error)) ([]Product, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		slog.WarnContext(ctx, "product cache unavailable", "error", err)
		return load()
	}
	cacheKey := c.GenerateKey("products", fmt.Sprintf("%d:%s", gen, key))

	data, err := c.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var products []Product
		if err := json.Unmarshal(data, &products); err == nil {
			return products, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "product cache read failed", "key", cacheKey, "error", err)
	}

	products, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(products); err == nil {
		if err := c.client.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "product cache write failed", "key", cacheKey, "error", err)
		}
	}
	return products, nil
}

func (c *RedisProductCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.GenerateKey("catalog", "generation")).Err()
}

var ErrIdempotencyInFlight = errors.New("a request with this idempotency key is still in progress")

// IdempotencyStore remembers which order an Idempotency-Key produced.
type IdempotencyStore interface {
	// Begin claims the key. It returns the order ID of a completed earlier
	// request, an empty string when the caller now owns the key, or
	// ErrIdempotencyInFlight.
	Begin(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, orderID string) error
	Abandon(ctx context.Context, key string) error
}

const idempotencyPending = "pending"

// RedisIdempotencyStore keeps keys with SETNX so only one request can own a key.
// A claim lives for pendingTTL until Complete stores the order for ttl, so a
// request that dies mid-flight stops blocking retries soon after.
type RedisIdempotencyStore struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
	pendingTTL  time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, serviceName string, ttl, pendingTTL time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client:      client,
		serviceName: serviceName,
		ttl:         ttl,
		pendingTTL:  pendingTTL,
	}
}

func (s *RedisIdempotencyStore) key(key string) string {
	return fmt.Sprintf("%s:%s:%s", s.serviceName, "idempotency", key)
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.client.SetNX(ctx, s.key(key), idempotencyPending, s.pendingTTL).Result()
		if err != nil {
			return "", fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if claimed {
			return "", nil
		}

		value, err := s.client.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read idempotency key: %w", err)
		}
		if value == idempotencyPending {
			return "", ErrIdempotencyInFlight
		}
		return value, nil
	}
	return "", ErrIdempotencyInFlight
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	return s.client.Set(ctx, s.key(key), orderID, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Abandon(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
