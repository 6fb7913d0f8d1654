package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/felipepmaragno/quotagate/internal/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisTimeout = 2 * time.Second

// incrScript sets the expiry only on the first increment so a window can
// never be extended by later traffic.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisBackend shares counters between gateway processes.
type RedisBackend struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisBackend parses redisURL, applies timeout to dial, read and write,
// and pings the server once.
func NewRedisBackend(ctx context.Context, redisURL string, timeout time.Duration) (*RedisBackend, error) {
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", domain.ErrBackendUnavailable, err)
	}

	return NewRedisBackendWithClient(client, timeout), nil
}

func NewRedisBackendWithClient(client *redis.Client, timeout time.Duration) *RedisBackend {
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}
	return &RedisBackend{client: client, timeout: timeout}
}

func (r *RedisBackend) Name() string { return "redis" }

// Client exposes the connection for components that share it, such as the
// alert deduplicator and the readiness check.
func (r *RedisBackend) Client() *redis.Client { return r.client }

func (r *RedisBackend) Take(ctx context.Context, key string, limit, burst int, now time.Time) (Decision, error) {
	return takeWindow(ctx, r.Increment, key, limit, burst, now)
}

func (r *RedisBackend) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	count, err := incrScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: increment %s: %w", domain.ErrBackendUnavailable, key, err)
	}
	return count, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
