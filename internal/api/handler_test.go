package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/felipepmaragno/quotagate/internal/gate"
	"github.com/felipepmaragno/quotagate/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	NameValue string
	CheckFunc func(ctx context.Context) error
}

func (m *MockHealthChecker) Name() string { return m.NameValue }

func (m *MockHealthChecker) Check(ctx context.Context) error {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return nil
}

type denyAll struct{}

func (denyAll) Check(ctx context.Context, req ratelimit.Request) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, ResetAt: time.Now().Add(10 * time.Second)}
}

func TestHealthLive(t *testing.T) {
	h := NewHandler(HandlerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []HealthChecker
		wantStatus string
	}{
		{"no checkers", nil, "ready"},
		{"all ok", []HealthChecker{&MockHealthChecker{NameValue: "redis"}}, "ready"},
		{
			"failing check degrades",
			[]HealthChecker{&MockHealthChecker{NameValue: "redis", CheckFunc: func(ctx context.Context) error {
				return errors.New("connection refused")
			}}},
			"degraded",
		},
		{"memory fallback", []HealthChecker{NewFallbackChecker("counter_backend", "in-memory fallback")}, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(HandlerConfig{Checkers: tt.checkers})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != http.StatusOK {
				t.Errorf("status code = %d, want 200", rec.Code)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checkers) {
				t.Errorf("checks = %d, want %d", len(status.Checks), len(tt.checkers))
			}
		})
	}
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisHealthCheckerWithClient(client)
	if c.Name() != "redis" {
		t.Errorf("Name() = %q", c.Name())
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	mr.Close()
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() should fail after redis stops")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(HandlerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestUpstreamRouting(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	tests := []struct {
		name     string
		cfg      HandlerConfig
		path     string
		wantCode int
	}{
		{"no upstream", HandlerConfig{}, "/api/items", http.StatusNotFound},
		{"upstream", HandlerConfig{Upstream: upstream}, "/api/items", http.StatusAccepted},
		{
			"gate denies",
			HandlerConfig{Upstream: upstream, Gate: gate.New(gate.Config{RateLimiter: denyAll{}, EnableRateLimit: true})},
			"/api/items",
			http.StatusTooManyRequests,
		},
		{
			"health bypasses gate",
			HandlerConfig{Upstream: upstream, Gate: gate.New(gate.Config{RateLimiter: denyAll{}, EnableRateLimit: true, RateLimitPrefixes: []string{"/"}})},
			"/health/live",
			http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.cfg)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
