package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitestock/webhooks/internal/domain"
)

// cachedSubscription re-attaches the signing secret, which the domain type
// excludes from JSON. The cache is internal; secrets never leave it.
type cachedSubscription struct {
	domain.Subscription
	Secret string `json:"secret"`
}

// RedisCache is the Redis-backed subscription cache, shared by all workers
// of a process and surviving restarts.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, slot string) ([]*domain.Subscription, bool, error) {
	raw, err := c.client.Get(ctx, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var cached []cachedSubscription
	if err := json.Unmarshal(raw, &cached); err != nil {
		// A corrupt slot behaves like a miss; the dispatcher repopulates.
		return nil, false, nil
	}

	subs := make([]*domain.Subscription, len(cached))
	for i := range cached {
		sub := cached[i].Subscription
		sub.Secret = cached[i].Secret
		subs[i] = &sub
	}
	return subs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, slot string, subs []*domain.Subscription, ttl time.Duration) error {
	cached := make([]cachedSubscription, len(subs))
	for i, sub := range subs {
		cached[i] = cachedSubscription{Subscription: *sub, Secret: sub.Secret}
	}

	raw, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	if err := c.client.Set(ctx, slot, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, slot string) error {
	if err := c.client.Del(ctx, slot).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
