package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkMemoryBackend_Take(b *testing.B) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.Take(ctx, "tenant-1", 60, 1<<30, now)
	}
}

func BenchmarkMemoryBackend_Take_Parallel(b *testing.B) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	now := time.Now()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			backend.Take(ctx, fmt.Sprintf("tenant-%d", i%100), 60, 1<<30, now)
			i++
		}
	})
}

func BenchmarkTieredLimiter_Check(b *testing.B) {
	doc := mustPolicy(b)
	l := NewTieredLimiter(doc, NewMemoryBackend())
	ctx := context.Background()
	req := Request{TenantID: "tenant-1", Path: "/api/items", Tier: "pro"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Check(ctx, req)
	}
}

func BenchmarkTokenBucketLimiter_Allow(b *testing.B) {
	l := NewTokenBucketLimiter(1e9, 1<<20)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Allow("tenant-1", "/core/search")
		}
	})
}
