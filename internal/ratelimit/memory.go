package ratelimit

import (
	"context"
	"sync"
	"time"
)

// tokenBucket tracks the fill level for one key. Levels refill lazily on
// access, so an idle bucket costs nothing until the next sweep removes it.
type tokenBucket struct {
	level float64
	seen  time.Time
}

const (
	sweepEvery   = time.Minute
	idleEviction = 10 * time.Minute
)

// MemoryLimiter is an in-process token bucket Limiter. Every key (typically
// a route-group prefix plus client IP) gets an independent bucket that
// refills at rate tokens per second up to burst capacity.
//
// Stale buckets are swept opportunistically during Allow calls rather than
// by a background goroutine, so Close has nothing to stop.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastSweep time.Time

	// clock is replaceable in tests.
	clock func() time.Time
}

// NewMemoryLimiter creates a limiter allowing rate sustained requests per
// second per key, with bursts up to burst requests.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		clock:   time.Now,
	}
}

// Allow takes one token for key and reports whether one was available.
// A false result means the caller should reject with 429.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if now.Sub(m.lastSweep) >= sweepEvery {
		m.sweepLocked(now)
		m.lastSweep = now
	}

	b, ok := m.buckets[key]
	if !ok {
		// An unseen key starts from a full bucket.
		m.buckets[key] = &tokenBucket{level: m.burst - 1, seen: now}
		return true, nil
	}

	b.level += now.Sub(b.seen).Seconds() * m.rate
	if b.level > m.burst {
		b.level = m.burst
	}
	b.seen = now

	if b.level < 1 {
		return false, nil
	}
	b.level--
	return true, nil
}

// Close implements Limiter. The memory limiter holds no external resources.
func (m *MemoryLimiter) Close() error { return nil }

// sweepLocked drops buckets idle past the eviction window. Caller holds mu.
func (m *MemoryLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-idleEviction)
	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
