package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAllowed  = "allowed"
	OutcomeLimited  = "limited"
	OutcomeDegraded = "degraded"
)

var (
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_rate_limit_decisions_total",
			Help: "Total number of tiered rate limit decisions",
		},
		[]string{"tier", "outcome"},
	)

	LocalBucketDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_local_bucket_decisions_total",
			Help: "Total number of in-process token bucket decisions",
		},
		[]string{"route", "outcome"},
	)

	WebhookQuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_webhook_quota_decisions_total",
			Help: "Total number of webhook quota decisions",
		},
		[]string{"platform", "tier", "outcome"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_backend_errors_total",
			Help: "Total number of counter backend errors",
		},
		[]string{"backend", "op"},
	)

	BackendInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotagate_backend_info",
			Help: "Active counter backend (always 1)",
		},
		[]string{"backend"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotagate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	GateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotagate_gate_duration_seconds",
			Help:    "Time spent in the request gate before forwarding or rejecting",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 2},
		},
		[]string{"stage"},
	)

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_alerts_sent_total",
			Help: "Total number of operator alerts dispatched",
		},
		[]string{"type"},
	)
)

func RecordRateLimitDecision(tier, outcome string) {
	RateLimitDecisions.WithLabelValues(tier, outcome).Inc()
}

func RecordLocalBucketDecision(route string, allowed bool) {
	outcome := OutcomeAllowed
	if !allowed {
		outcome = OutcomeLimited
	}
	LocalBucketDecisions.WithLabelValues(route, outcome).Inc()
}

func RecordWebhookQuotaDecision(platform, tier, outcome string) {
	WebhookQuotaDecisions.WithLabelValues(platform, tier, outcome).Inc()
}

func RecordBackendError(backend, op string) {
	BackendErrors.WithLabelValues(backend, op).Inc()
}

func RecordAlert(alertType string) {
	AlertsSent.WithLabelValues(alertType).Inc()
}

func ObserveGate(stage string, durationSec float64) {
	GateDuration.WithLabelValues(stage).Observe(durationSec)
}

// SetBackend marks the counter backend chosen at startup.
func SetBackend(name string) {
	BackendInfo.Reset()
	BackendInfo.WithLabelValues(name).Set(1)
}

func SetCircuitBreakerState(backend string, state int) {
	CircuitBreakerState.WithLabelValues(backend).Set(float64(state))
}
