// Package ratelimit enforces per-minute request limits.
//
// Two algorithms live here and are deliberately kept apart:
//   - TieredLimiter: a fixed-window counter per tenant (or IP), path and tier,
//     stored in a Backend so that every gateway process shares the count
//   - TokenBucketLimiter: an in-process token bucket with continuous refill,
//     for lightweight per-route protection
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"
)

const (
	// Window is the fixed counting window for request limits.
	Window = time.Minute

	// windowRetention outlives the window to tolerate clock skew between
	// processes around the boundary.
	windowRetention = 2 * Window
)

// Decision is the outcome of a single limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time

	// Degraded is set when the counter store failed and the request was
	// allowed without being counted.
	Degraded bool
}

// RetryAfter returns the whole number of seconds until ResetAt, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Backend stores window counters.
// Implementations must make Increment atomic per key.
type Backend interface {
	// Take counts one request against key in the current fixed window.
	Take(ctx context.Context, key string, limit, burst int, now time.Time) (Decision, error)

	// Increment adds one to key and returns the new count. ttl is applied
	// when the key is created and left alone afterwards.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Name() string
}

type incrementFunc func(ctx context.Context, key string, ttl time.Duration) (int64, error)

// takeWindow implements the fixed-window counter on top of an increment.
// limit is accepted for interface symmetry; only burst caps the window.
func takeWindow(ctx context.Context, incr incrementFunc, key string, limit, burst int, now time.Time) (Decision, error) {
	windowID := now.Unix() / int64(Window/time.Second)
	windowKey := key + ":" + strconv.FormatInt(windowID, 10)
	resetAt := time.Unix((windowID+1)*int64(Window/time.Second), 0)

	count, err := incr(ctx, windowKey, windowRetention)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Limit:   burst,
		ResetAt: resetAt,
	}
	if count <= int64(burst) {
		d.Allowed = true
		d.Remaining = burst - int(count)
	}

	return d, nil
}
