package websocket

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestGlobalConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(2)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(2), limiter.Current())

	limiter.Release()
	assert.Equal(t, int64(1), limiter.Current())
	assert.True(t, limiter.Acquire())
	assert.Equal(t, int64(2), limiter.Max())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(50)
	var successCount atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 120 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				successCount.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, int64(50), limiter.Current())
}

func TestConnectionRateLimiter_BurstThenRefill(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	limiter := NewConnectionRateLimiter(1, 2, clock)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Other IPs have their own bucket
	assert.True(t, limiter.Allow("10.0.0.2"))

	clock.Advance(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestConnectionRateLimiter_CleansUpIdleEntries(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	limiter := NewConnectionRateLimiter(10, 10, clock)

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	assert.Equal(t, 2, limiter.ActiveLimiters())

	clock.Advance(11 * time.Minute)
	limiter.Allow("10.0.0.3")
	assert.Equal(t, 1, limiter.ActiveLimiters())
}

func TestConnectionLimits_Acquire(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))

	t.Run("rate limited", func(t *testing.T) {
		limits := NewConnectionLimits(100, 1, 1, clock)

		ok, _ := limits.Acquire("10.0.0.1")
		assert.True(t, ok)
		ok, reason := limits.Acquire("10.0.0.1")
		assert.False(t, ok)
		assert.Equal(t, LimitReasonRate, reason)
		assert.Equal(t, int64(1), limits.Global().Current())
	})

	t.Run("global cap", func(t *testing.T) {
		limits := NewConnectionLimits(1, 100, 100, clock)

		ok, _ := limits.Acquire("10.0.0.1")
		assert.True(t, ok)
		ok, reason := limits.Acquire("10.0.0.2")
		assert.False(t, ok)
		assert.Equal(t, LimitReasonGlobal, reason)

		limits.Release()
		ok, _ = limits.Acquire("10.0.0.2")
		assert.True(t, ok)
	})
}
