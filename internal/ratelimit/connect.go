package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Connect selects the counter backend once for the lifetime of the process.
// Redis is used when redisURL parses and answers a ping; anything else falls
// back to MemoryBackend and is never retried.
func Connect(ctx context.Context, redisURL string, timeout time.Duration) Backend {
	if redisURL == "" {
		slog.Warn("no redis url configured, using in-memory counters")
		return NewMemoryBackend()
	}

	backend, err := NewRedisBackend(ctx, redisURL, timeout)
	if err != nil {
		slog.Warn("redis unavailable, using in-memory counters",
			"error", err,
		)
		return NewMemoryBackend()
	}

	slog.Info("redis counter backend connected")
	return backend
}
