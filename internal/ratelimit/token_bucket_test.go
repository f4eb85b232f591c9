package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	tb := NewTokenBucket(10, 5)

	for i := 0; i < 10; i++ {
		require.True(t, tb.Allow(), "burst request %d", i)
	}
	assert.False(t, tb.Allow(), "bucket should be empty after burst")
}

func TestTokenBucketAllowN(t *testing.T) {
	tb := NewTokenBucket(100, 10)

	require.True(t, tb.AllowN(50))
	assert.InDelta(t, 50, tb.Remaining(), 1)
	assert.False(t, tb.AllowN(60), "only 50 tokens remain")
}

func TestTokenBucketReset(t *testing.T) {
	tb := NewTokenBucket(100, 10)
	tb.AllowN(100)

	tb.Reset()
	assert.Equal(t, float64(100), tb.Remaining())
}

func TestTokenBucketWaitTime(t *testing.T) {
	tb := NewTokenBucket(10, 10)

	assert.Equal(t, time.Duration(0), tb.WaitTime())

	tb.AllowN(10)
	wait := tb.WaitTime()
	assert.InDelta(t, float64(100*time.Millisecond), float64(wait), float64(20*time.Millisecond))
}

func TestTokenBucketRefillRate(t *testing.T) {
	tb := NewTokenBucket(100, 50)
	tb.AllowN(100)

	time.Sleep(200 * time.Millisecond)
	assert.InDelta(t, 10, tb.Remaining(), 3, "50/sec should refill ~10 tokens in 200ms")
}

func TestTokenBucketConcurrent(t *testing.T) {
	tb := NewTokenBucket(1000, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tb.Allow()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, tb.Remaining(), 1.0)
}
