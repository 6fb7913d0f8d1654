// Package gate is the HTTP middleware that applies rate limits and webhook
// quotas before a request reaches the application.
//
// Checks run in a fixed order: local token buckets, then tiered rate limits,
// then webhook quotas. The first denial short-circuits the request.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/quotagate/internal/domain"
	"github.com/felipepmaragno/quotagate/internal/metrics"
	"github.com/felipepmaragno/quotagate/internal/quota"
	"github.com/felipepmaragno/quotagate/internal/ratelimit"
	"github.com/felipepmaragno/quotagate/internal/telemetry"
	"github.com/google/uuid"
)

const webhookRetryAfter = "86400"

// QuotaChecker is satisfied by *quota.Counter.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, tenantID, tier, platform string, now time.Time) quota.Result
}

// LocalRoute throttles every path under Prefix with an in-process limiter.
type LocalRoute struct {
	Prefix  string
	Limiter ratelimit.Limiter
}

type Config struct {
	RateLimiter ratelimit.Limiter
	Quota       QuotaChecker
	LocalRoutes []LocalRoute

	EnableRateLimit    bool
	EnableWebhookQuota bool

	// RateLimitPrefixes selects the paths subject to tiered limits.
	// Defaults to "/api/".
	RateLimitPrefixes []string
	TrustForwardedFor bool

	Now func() time.Time
}

type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	if len(cfg.RateLimitPrefixes) == 0 {
		cfg.RateLimitPrefixes = []string{"/api/"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{cfg: cfg}
}

func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)
		}

		path := r.URL.Path
		local := g.localRoute(path)
		limited := g.cfg.EnableRateLimit && g.cfg.RateLimiter != nil && g.rateLimited(path)
		webhook := g.cfg.EnableWebhookQuota && g.cfg.Quota != nil && quota.IsWebhookPath(path)

		if local == nil && !limited && !webhook {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := telemetry.StartSpan(r.Context(), "gate")
		defer span.End()

		id := resolveIdentity(r)
		req := ratelimit.Request{
			TenantID: id.TenantID,
			ClientIP: clientIP(r, g.cfg.TrustForwardedFor),
			Path:     path,
			Method:   r.Method,
			Tier:     id.Tier,
		}
		telemetry.AddRequestAttributes(span, req.TenantID, req.ClientIP, path, req.Tier, requestID)

		if local != nil {
			start := time.Now()
			routeReq := req
			routeReq.Path = local.Prefix
			d := local.Limiter.Check(ctx, routeReq)
			metrics.RecordLocalBucketDecision(local.Prefix, d.Allowed)
			metrics.ObserveGate("local_bucket", time.Since(start).Seconds())

			if !d.Allowed {
				g.rejectRateLimited(ctx, w, req, requestID, d)
				return
			}
		}

		if limited {
			start := time.Now()
			d := g.cfg.RateLimiter.Check(ctx, req)
			metrics.ObserveGate("rate_limit", time.Since(start).Seconds())

			if !d.Allowed {
				g.rejectRateLimited(ctx, w, req, requestID, d)
				return
			}
		}

		if webhook && id.TenantID != "" {
			start := time.Now()
			tier := strings.ToLower(id.Tier)
			if tier == "" {
				tier = string(domain.TierFree)
			}
			platform := quota.PlatformFromPath(path)

			res := g.cfg.Quota.CheckAndIncrement(ctx, id.TenantID, tier, platform, g.cfg.Now())
			metrics.ObserveGate("webhook_quota", time.Since(start).Seconds())

			setWebhookHeaders(w.Header(), res)
			if !res.Allowed {
				slog.Warn("webhook quota exceeded",
					"tenant_id", id.TenantID,
					"platform", platform,
					"used", res.Used,
					"limit", res.Limit,
					"request_id", requestID,
					"trace_id", telemetry.TraceID(ctx),
				)
				w.Header().Set("X-Request-ID", requestID)
				writeWebhookQuotaExceeded(w, res)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) localRoute(path string) *LocalRoute {
	for i := range g.cfg.LocalRoutes {
		if strings.HasPrefix(path, g.cfg.LocalRoutes[i].Prefix) {
			return &g.cfg.LocalRoutes[i]
		}
	}
	return nil
}

func (g *Gate) rateLimited(path string) bool {
	for _, prefix := range g.cfg.RateLimitPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) rejectRateLimited(ctx context.Context, w http.ResponseWriter, req ratelimit.Request, requestID string, d ratelimit.Decision) {
	retryAfter := d.RetryAfter(g.cfg.Now())

	slog.Warn("rate limit exceeded",
		"tenant_id", req.TenantID,
		"client_ip", req.ClientIP,
		"path", req.Path,
		"request_id", requestID,
		"trace_id", telemetry.TraceID(ctx),
		"retry_after_seconds", retryAfter,
	)

	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{
			"message": "rate limit exceeded",
			"type":    "rate_limit_exceeded",
			"code":    http.StatusTooManyRequests,
		},
		"retry_after_seconds": retryAfter,
	})
}

func setWebhookHeaders(h http.Header, res quota.Result) {
	h.Set("X-Webhook-Used", strconv.Itoa(res.Used))
	h.Set("X-Webhook-Limit", strconv.Itoa(res.Limit))
	h.Set("X-Webhook-Platform", res.Platform)
	h.Set("X-Webhook-Tier", res.Tier)
}

func writeWebhookQuotaExceeded(w http.ResponseWriter, res quota.Result) {
	w.Header().Set("Retry-After", webhookRetryAfter)
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"detail":   "Daily webhook quota exceeded for " + res.Platform,
		"used":     res.Used,
		"limit":    res.Limit,
		"tier":     res.Tier,
		"platform": res.Platform,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
