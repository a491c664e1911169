package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCache_GetMissOnEmptySlot(t *testing.T) {
	c, _ := newTestRedisCache(t)

	_, ok, err := c.Get(context.Background(), ActiveSlot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss on empty slot")
	}
}

func TestRedisCache_SetThenGet(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, ActiveSlot, testSubs("sub-1", "sub-2"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subs, ok, err := c.Get(ctx, ActiveSlot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	if subs[0].ID != "sub-1" || subs[1].ID != "sub-2" {
		t.Errorf("unexpected order: %s, %s", subs[0].ID, subs[1].ID)
	}
}

func TestRedisCache_SecretSurvivesRoundTrip(t *testing.T) {
	// The domain type hides the secret from JSON; the cache encoding must
	// carry it anyway or cached subscriptions could not sign deliveries.
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, ActiveSlot, testSubs("sub-1"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subs, ok, err := c.Get(ctx, ActiveSlot)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if subs[0].Secret != "secret-sub-1" {
		t.Errorf("expected secret to survive the round trip, got %q", subs[0].Secret)
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, ActiveSlot, testSubs("sub-1"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, ActiveSlot); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestRedisCache_Invalidate(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, ActiveSlot, testSubs("sub-1"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Invalidate(ctx, ActiveSlot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := c.Get(ctx, ActiveSlot); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestRedisCache_CorruptSlotBehavesLikeMiss(t *testing.T) {
	c, mr := newTestRedisCache(t)

	mr.Set(ActiveSlot, "not json")

	_, ok, err := c.Get(context.Background(), ActiveSlot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("corrupt slot should read as a miss")
	}
}
