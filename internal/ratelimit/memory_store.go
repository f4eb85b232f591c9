package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps token buckets in process memory. Suitable for single
// instance deployments; use RedisStore for clusters.
type MemoryStore struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// NewMemoryStore creates an in-memory store with a 5 minute cleanup cycle.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanup(5 * time.Minute)
}

// NewMemoryStoreWithCleanup creates a store with a custom cleanup interval.
func NewMemoryStoreWithCleanup(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:         make(map[string]*TokenBucket),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Allow checks if a request under the given key should be allowed.
func (s *MemoryStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	bucket := s.getBucket(key, capacity, refillRate)
	allowed := bucket.Allow()
	return allowed, bucket.Remaining(), nil
}

// Remaining returns remaining tokens for a key.
func (s *MemoryStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	bucket := s.getBucket(key, capacity, refillRate)
	return bucket.Remaining(), nil
}

// Reset clears the rate limit state for a key.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bucket, exists := s.buckets[key]; exists {
		bucket.Reset()
	}
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	return nil
}

func (s *MemoryStore) getBucket(key string, capacity, refillRate float64) *TokenBucket {
	s.mu.RLock()
	bucket, exists := s.buckets[key]
	s.mu.RUnlock()

	if exists {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists = s.buckets[key]; exists {
		return bucket
	}

	bucket = NewTokenBucket(capacity, refillRate)
	s.buckets[key] = bucket
	return bucket
}

func (s *MemoryStore) cleanupLoop() {
	if s.cleanupInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets that have refilled close to capacity, meaning the
// client has been idle long enough to forget.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, bucket := range s.buckets {
		if bucket.Remaining() >= bucket.capacity*0.95 {
			delete(s.buckets, key)
		}
	}
}

// StoreStats reports bucket counts for diagnostics.
type StoreStats struct {
	ActiveBuckets int
}

// GetStats returns current statistics.
func (s *MemoryStore) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{ActiveBuckets: len(s.buckets)}
}
