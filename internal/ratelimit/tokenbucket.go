package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter keeps one continuously refilling bucket per scope and
// route. State lives in this process only. A bucket that has refilled to
// burst is indistinguishable from a new one and is dropped by the sweep.
type TokenBucketLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func NewTokenBucketLimiter(ratePerSec float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(ratePerSec),
		burst:   burst,
		now:     time.Now,
	}
}

// WithClock replaces the time source used by Allow and Check. Intended for tests.
func (t *TokenBucketLimiter) WithClock(now func() time.Time) *TokenBucketLimiter {
	t.now = now
	return t
}

func (t *TokenBucketLimiter) Allow(scope, route string) bool {
	return t.AllowAt(scope, route, t.now())
}

// AllowAt consumes one token if available at now.
func (t *TokenBucketLimiter) AllowAt(scope, route string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bucketLocked(scope, route, now).AllowN(now, 1)
}

// Tokens reports the tokens available at now without consuming any.
func (t *TokenBucketLimiter) Tokens(scope, route string, now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bucketLocked(scope, route, now).TokensAt(now)
}

// Len reports the number of buckets held in memory.
func (t *TokenBucketLimiter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Check adapts the bucket to the Limiter interface, scoping by tenant when
// known and by client IP otherwise.
func (t *TokenBucketLimiter) Check(ctx context.Context, req Request) Decision {
	scope := req.TenantID
	if scope == "" {
		scope = req.ClientIP
	}

	now := t.now()
	t.mu.Lock()
	b := t.bucketLocked(scope, req.Path, now)
	allowed := b.AllowN(now, 1)
	tokens := b.TokensAt(now)
	t.mu.Unlock()

	d := Decision{
		Allowed:   allowed,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		Limit:     t.burst,
		ResetAt:   now,
	}
	if tokens < 1 && t.rate > 0 {
		wait := time.Duration((1 - tokens) / float64(t.rate) * float64(time.Second))
		d.ResetAt = now.Add(wait)
	}

	return d
}

func (t *TokenBucketLimiter) bucketLocked(scope, route string, now time.Time) *rate.Limiter {
	t.sweepLocked(now)

	key := RouteKey(scope, route)
	b, ok := t.buckets[key]
	if !ok {
		b = rate.NewLimiter(t.rate, t.burst)
		// Start full at now rather than at the zero time.
		b.SetLimitAt(now, t.rate)
		t.buckets[key] = b
	}
	return b
}

func (t *TokenBucketLimiter) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < sweepInterval {
		return
	}
	t.lastSweep = now

	full := float64(t.burst)
	for k, b := range t.buckets {
		if b.TokensAt(now) >= full {
			delete(t.buckets, k)
		}
	}
}

var (
	_ Limiter = (*TieredLimiter)(nil)
	_ Limiter = (*TokenBucketLimiter)(nil)
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*RedisBackend)(nil)
	_ Backend = (*GuardedBackend)(nil)
)
