package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Second

// MemoryBackend keeps counters in process memory.
// Counts are not shared between processes; it is the fallback when Redis is
// unreachable at startup.
type MemoryBackend struct {
	mu        sync.Mutex
	counters  map[string]*counter
	lastSweep time.Time
	now       func() time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// WithClock replaces the time source Increment uses for expiry. Take uses the
// time it is given. Intended for tests.
func (m *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	m.now = now
	return m
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Take(ctx context.Context, key string, limit, burst int, now time.Time) (Decision, error) {
	incr := func(_ context.Context, key string, ttl time.Duration) (int64, error) {
		return m.incrementAt(key, ttl, now), nil
	}
	return takeWindow(ctx, incr, key, limit, burst, now)
}

func (m *MemoryBackend) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return m.incrementAt(key, ttl, m.now()), nil
}

func (m *MemoryBackend) incrementAt(key string, ttl time.Duration, now time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(now)

	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		m.counters[key] = c
	}
	c.count++

	return c.count
}

// Len reports the number of live counters.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

func (m *MemoryBackend) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now

	for k, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, k)
		}
	}
}
