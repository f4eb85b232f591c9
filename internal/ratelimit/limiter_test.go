package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 10})
	defer limiter.Close()

	ctx := context.Background()

	// Should allow first 10 requests
	for i := 0; i < 10; i++ {
		if !limiter.Allow(ctx, "key:abc") {
			t.Errorf("request %d should be allowed", i)
		}
	}

	// 11th should be denied
	if limiter.Allow(ctx, "key:abc") {
		t.Error("11th request should be denied")
	}

	// Different client should have a separate bucket
	if !limiter.Allow(ctx, "key:other") {
		t.Error("different client should be allowed")
	}
}

func TestLimiterReset(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 10})
	defer limiter.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		limiter.Allow(ctx, "key:abc")
	}
	if limiter.Allow(ctx, "key:abc") {
		t.Error("should be denied before reset")
	}

	if err := limiter.Reset(ctx, "key:abc"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if !limiter.Allow(ctx, "key:abc") {
		t.Error("should be allowed after reset")
	}
}

func TestLimiterRemaining(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 100})
	defer limiter.Close()

	ctx := context.Background()

	if remaining := limiter.Remaining(ctx, "addr:10.0.0.1"); remaining != 100 {
		t.Errorf("expected 100 remaining, got %f", remaining)
	}

	for i := 0; i < 30; i++ {
		limiter.Allow(ctx, "addr:10.0.0.1")
	}

	remaining := limiter.Remaining(ctx, "addr:10.0.0.1")
	if remaining < 69.9 || remaining > 70.1 {
		t.Errorf("expected ~70 remaining, got %f", remaining)
	}
}

func TestLimiterEmptyKey(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	defer limiter.Close()

	// An empty key is always allowed
	if !limiter.Allow(context.Background(), "") {
		t.Error("empty key should be allowed")
	}
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStoreWithCleanup(100 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		store.Allow(ctx, key, 100, 100)
	}

	if stats := store.GetStats(); stats.ActiveBuckets != 5 {
		t.Errorf("expected 5 active buckets, got %d", stats.ActiveBuckets)
	}

	// Buckets refill quickly at 100/sec and get swept as inactive
	time.Sleep(200 * time.Millisecond)

	if stats := store.GetStats(); stats.ActiveBuckets != 0 {
		t.Errorf("expected 0 active buckets after cleanup, got %d", stats.ActiveBuckets)
	}
}
