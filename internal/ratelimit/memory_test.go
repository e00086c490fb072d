package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock pins the limiter to a controllable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewMemoryLimiter(rate, burst)
	m.clock = clock.Now
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, clock
}

func TestMemoryLimiterAllowsWithinBurst(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 5)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be within burst", i)
	}
}

func TestMemoryLimiterDeniesWhenExhausted(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted, fourth request should be denied")
}

func TestMemoryLimiterRefillsOverTime(t *testing.T) {
	m, clock := newTestLimiter(t, 2, 2) // 2 tokens per second

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok, "bucket should be empty immediately after burst")

	clock.Advance(600 * time.Millisecond) // refills 1.2 tokens

	ok, err = m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "one token should have refilled")

	ok, err = m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "only one whole token refilled")
}

func TestMemoryLimiterRefillCapsAtBurst(t *testing.T) {
	m, clock := newTestLimiter(t, 100, 3)

	ctx := context.Background()
	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	// A long idle period must not accumulate more than burst tokens.
	clock.Advance(time.Minute)

	for i := 0; i < 3; i++ {
		ok, err = m.Allow(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok, "request %d should drain the refilled bucket", i)
	}
	ok, err = m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "refill should cap at burst capacity")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 1)

	ctx := context.Background()
	ok, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok, "key a is exhausted")

	ok, err = m.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "key b has its own bucket")
}

func TestMemoryLimiterSweepsIdleBuckets(t *testing.T) {
	m, clock := newTestLimiter(t, 10, 5)

	ctx := context.Background()
	_, err := m.Allow(ctx, "stale")
	require.NoError(t, err)

	// Past the eviction window; the next Allow triggers a sweep.
	clock.Advance(idleEviction + time.Minute)
	_, err = m.Allow(ctx, "fresh")
	require.NoError(t, err)

	m.mu.Lock()
	_, staleExists := m.buckets["stale"]
	_, freshExists := m.buckets["fresh"]
	m.mu.Unlock()

	assert.False(t, staleExists, "idle bucket should be swept")
	assert.True(t, freshExists)
}

func TestMemoryLimiterSweepKeepsActiveBuckets(t *testing.T) {
	m, clock := newTestLimiter(t, 10, 5)

	ctx := context.Background()
	_, err := m.Allow(ctx, "active")
	require.NoError(t, err)

	// Touch the key again just before the sweep fires.
	clock.Advance(idleEviction - time.Minute)
	_, err = m.Allow(ctx, "active")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.Allow(ctx, "other")
	require.NoError(t, err)

	m.mu.Lock()
	_, exists := m.buckets["active"]
	m.mu.Unlock()
	assert.True(t, exists, "recently used bucket should survive the sweep")
}

func TestMemoryLimiterConcurrentSharedKey(t *testing.T) {
	m, _ := newTestLimiter(t, 100, 50)

	ctx := context.Background()
	var wg sync.WaitGroup
	allowed := make([]int, 10)

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared")
				assert.NoError(t, err)
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	// The clock is frozen, so exactly the burst is admitted.
	assert.Equal(t, 50, total)
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Close())
}
