package alert

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultDedupTTL = 24 * time.Hour

	dedupSweepInterval = time.Minute
)

// Deduplicator decides whether an alert key has already been sent.
type Deduplicator interface {
	// ShouldAlert returns true exactly once per key within the TTL.
	ShouldAlert(ctx context.Context, key string) bool
}

// InMemoryDeduplicator implements Deduplicator for a single instance.
type InMemoryDeduplicator struct {
	mu        sync.Mutex
	sent      map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewInMemoryDeduplicator(ttl time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		sent: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= dedupSweepInterval {
		d.lastSweep = now
		for k, expiresAt := range d.sent {
			if !now.Before(expiresAt) {
				delete(d.sent, k)
			}
		}
	}

	if expiresAt, exists := d.sent[key]; exists && now.Before(expiresAt) {
		return false
	}

	d.sent[key] = now.Add(d.ttl)
	return true
}

// RedisDeduplicator shares alert state between gateway instances.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicatorWithClient(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client: client,
		ttl:    ttl,
	}
}

// ShouldAlert uses SETNX so only one instance wins each key.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, key string) bool {
	acquired, err := d.client.SetNX(ctx, "quotagate:alert:"+key, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		// On Redis error, allow the alert (fail open)
		return true
	}
	return acquired
}
