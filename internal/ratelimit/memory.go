package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// sweepEvery is how often the background sweep runs.
	sweepEvery = time.Minute
	// idleEviction is how long a key may go unseen before its bucket is dropped.
	idleEviction = 10 * time.Minute
)

// tokenBucket tracks the remaining allowance for one key. level is a fractional
// token count; touched is the last time the bucket was read or refilled.
type tokenBucket struct {
	level   float64
	touched time.Time
}

// take refills the bucket for the elapsed time since it was last touched,
// clamps it at cap, then consumes one token if available.
func (b *tokenBucket) take(now time.Time, perSec, cap float64) bool {
	b.level += now.Sub(b.touched).Seconds() * perSec
	if b.level > cap {
		b.level = cap
	}
	b.touched = now
	if b.level < 1 {
		return false
	}
	b.level--
	return true
}

// MemoryLimiter is the in-process Limiter: one token bucket per key, refilled
// at a sustained rate up to a burst ceiling. A sweep goroutine drops buckets
// for keys idle longer than idleEviction so the map stays bounded.
type MemoryLimiter struct {
	perSec   float64
	capacity float64

	mu    sync.Mutex
	byKey map[string]*tokenBucket

	closeOnce sync.Once
	stop      chan struct{}
}

// NewMemoryLimiter returns a limiter that sustains rate requests per second
// per key and absorbs bursts up to burst. Close stops the sweep goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		perSec:   rate,
		capacity: float64(burst),
		byKey:    make(map[string]*tokenBucket),
		stop:     make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow consumes one token from key's bucket. An unseen key starts at full
// capacity, so its first request always succeeds.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.byKey[key]
	if !ok {
		m.byKey[key] = &tokenBucket{level: m.capacity - 1, touched: now}
		return true, nil
	}
	return b.take(now, m.perSec, m.capacity), nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.dropIdle(time.Now())
		}
	}
}

// dropIdle removes buckets whose key has not been seen within idleEviction.
func (m *MemoryLimiter) dropIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-idleEviction)
	for key, b := range m.byKey {
		if b.touched.Before(cutoff) {
			delete(m.byKey, key)
		}
	}
}
