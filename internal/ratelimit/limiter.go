package ratelimit

import (
	"context"
)

// Store is the storage backend for rate limit state. Keys are opaque client
// identifiers (API key or remote address). Implementations can be in-memory
// for single-instance deployments or Redis-backed for clusters.
type Store interface {
	// Allow checks if a request under the given key should be allowed.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// Remaining returns remaining tokens for a key without consuming any.
	Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error)

	// Reset clears the rate limit state for a key.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Limiter applies a per-client token bucket through a pluggable store.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64
}

// Config holds limiter settings.
type Config struct {
	// Store defaults to MemoryStore when nil.
	Store Store

	// RequestsPerSecond is the sustained per-client rate.
	RequestsPerSecond float64
	// BurstSize is the per-client burst capacity.
	BurstSize float64
}

// DefaultConfig returns production defaults: 10 req/sec sustained with a
// burst of 30 per client.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		BurstSize:         30,
	}
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 30
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	return &Limiter{
		store:      store,
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
	}
}

// Allow checks if a request under the given key should proceed. Storage
// errors fail open so a degraded Redis never blocks traffic.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}

	allowed, _, err := l.store.Allow(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return true
	}
	return allowed
}

// Remaining returns the tokens left for a key. Errors report full capacity.
func (l *Limiter) Remaining(ctx context.Context, key string) float64 {
	if key == "" {
		return l.capacity
	}

	remaining, err := l.store.Remaining(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return l.capacity
	}
	return remaining
}

// Reset clears the limit state for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Close stops the limiter and releases store resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
