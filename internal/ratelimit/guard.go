package ratelimit

import (
	"context"
	"time"

	"github.com/felipepmaragno/quotagate/internal/circuitbreaker"
	"github.com/felipepmaragno/quotagate/internal/metrics"
)

// GuardedBackend short-circuits calls to a failing backend.
// While the breaker is open every call returns domain.ErrCircuitBreakerOpen
// without touching the network.
type GuardedBackend struct {
	backend Backend
	breaker *circuitbreaker.CircuitBreaker
}

func Guard(backend Backend, breaker *circuitbreaker.CircuitBreaker) *GuardedBackend {
	return &GuardedBackend{backend: backend, breaker: breaker}
}

func (g *GuardedBackend) Name() string { return g.backend.Name() }

// Unwrap returns the guarded backend.
func (g *GuardedBackend) Unwrap() Backend { return g.backend }

func (g *GuardedBackend) Take(ctx context.Context, key string, limit, burst int, now time.Time) (Decision, error) {
	return takeWindow(ctx, g.Increment, key, limit, burst, now)
}

func (g *GuardedBackend) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := g.breaker.Allow(); err != nil {
		return 0, err
	}

	count, err := g.backend.Increment(ctx, key, ttl)
	if err != nil {
		metrics.RecordBackendError(g.backend.Name(), "increment")
		g.breaker.RecordFailure()
		return 0, err
	}

	g.breaker.RecordSuccess()
	return count, nil
}
