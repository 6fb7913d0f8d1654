package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipepmaragno/quotagate/internal/alert"
	"github.com/felipepmaragno/quotagate/internal/domain"
	"github.com/felipepmaragno/quotagate/internal/metrics"
	"github.com/felipepmaragno/quotagate/internal/policy"
	"github.com/felipepmaragno/quotagate/internal/telemetry"
)

// Request carries the identity resolved by the surrounding auth layer.
type Request struct {
	TenantID string
	ClientIP string
	Path     string
	Method   string
	Tier     string
}

// Limiter decides whether a request may proceed. Check never fails; storage
// problems surface as Decision.Degraded.
type Limiter interface {
	Check(ctx context.Context, req Request) Decision
}

// Alerter receives operator alerts.
type Alerter interface {
	Dispatch(ctx context.Context, a alert.Alert) bool
}

type Option func(*TieredLimiter)

func WithAlerter(a Alerter) Option {
	return func(l *TieredLimiter) { l.alerter = a }
}

func WithClock(now func() time.Time) Option {
	return func(l *TieredLimiter) { l.now = now }
}

// TieredLimiter applies per-tier, per-endpoint fixed-window limits.
type TieredLimiter struct {
	policy  *policy.Document
	backend Backend
	alerter Alerter
	now     func() time.Time
}

func NewTieredLimiter(doc *policy.Document, backend Backend, opts ...Option) *TieredLimiter {
	l := &TieredLimiter{
		policy:  doc,
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TieredLimiter) Check(ctx context.Context, req Request) Decision {
	return l.CheckAt(ctx, req, l.now())
}

func (l *TieredLimiter) CheckAt(ctx context.Context, req Request, now time.Time) Decision {
	ctx, span := telemetry.StartSpan(ctx, "ratelimit.check")
	defer span.End()

	tier := domain.NormalizeTier(req.Tier)
	limits := l.policy.Limits(tier, req.Path)
	key := BucketKey(req.TenantID, req.ClientIP, req.Path, tier)

	decision, err := l.backend.Take(ctx, key, limits.RequestsPerMinute, limits.Burst, now)
	if err != nil {
		telemetry.RecordError(span, err)
		decision = l.failOpen(ctx, req, tier, limits, now, err)
	}

	telemetry.AddDecisionAttributes(span, decision.Allowed, decision.Remaining, decision.Degraded)
	metrics.RecordRateLimitDecision(tier.String(), outcome(decision))

	return decision
}

func (l *TieredLimiter) failOpen(ctx context.Context, req Request, tier domain.Tier, limits policy.Limits, now time.Time, err error) Decision {
	slog.Warn("rate limit backend error, allowing request",
		"backend", l.backend.Name(),
		"tenant_id", req.TenantID,
		"tier", tier,
		"error", err,
	)

	if l.alerter != nil {
		l.alerter.Dispatch(ctx, alert.Alert{
			Type:      alert.TypeBackendDegraded,
			TenantID:  req.TenantID,
			Tier:      tier.String(),
			Backend:   l.backend.Name(),
			Message:   err.Error(),
			Timestamp: now,
		})
	}

	return Decision{
		Allowed:   true,
		Remaining: limits.Burst,
		Limit:     limits.Burst,
		ResetAt:   now.Add(Window),
		Degraded:  true,
	}
}

func outcome(d Decision) string {
	switch {
	case d.Degraded:
		return metrics.OutcomeDegraded
	case d.Allowed:
		return metrics.OutcomeAllowed
	default:
		return metrics.OutcomeLimited
	}
}
