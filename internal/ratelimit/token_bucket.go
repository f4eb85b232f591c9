package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe token bucket. The bucket refills at a
// constant rate and allows bursts up to its capacity.
type TokenBucket struct {
	capacity   float64   // maximum tokens in bucket
	refillRate float64   // tokens added per second
	tokens     float64   // current tokens available
	lastRefill time.Time // last time the bucket was refilled
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket that starts full.
//   - capacity: maximum number of tokens (burst size)
//   - refillRate: tokens added per second (sustained rate)
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available. Returns false when rate limited.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens if available. Useful for operations with
// different costs.
func (tb *TokenBucket) AllowN(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// Remaining returns the number of tokens currently available.
func (tb *TokenBucket) Remaining() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// Reset refills the bucket to capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

// refill adds tokens based on elapsed time. Caller must hold the lock.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

// WaitTime returns the duration until one token becomes available. Zero when
// a token is available now.
func (tb *TokenBucket) WaitTime() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		return 0
	}

	secondsNeeded := (1 - tb.tokens) / tb.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}
