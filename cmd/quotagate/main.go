package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/quotagate/internal/alert"
	"github.com/felipepmaragno/quotagate/internal/api"
	"github.com/felipepmaragno/quotagate/internal/circuitbreaker"
	"github.com/felipepmaragno/quotagate/internal/config"
	"github.com/felipepmaragno/quotagate/internal/gate"
	"github.com/felipepmaragno/quotagate/internal/httputil"
	"github.com/felipepmaragno/quotagate/internal/metrics"
	"github.com/felipepmaragno/quotagate/internal/notifications"
	"github.com/felipepmaragno/quotagate/internal/policy"
	"github.com/felipepmaragno/quotagate/internal/quota"
	"github.com/felipepmaragno/quotagate/internal/ratelimit"
	"github.com/felipepmaragno/quotagate/internal/secrets"
	"github.com/felipepmaragno/quotagate/internal/telemetry"
	"github.com/joho/godotenv"
)

const (
	serviceName    = "quotagate"
	serviceVersion = "0.1.0"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting quotagate", "addr", cfg.Addr, "version", serviceVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	if cfg.RedisURLSecret != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to create secrets client", "error", err)
			os.Exit(1)
		}
		if err := cfg.ResolveSecrets(ctx, store); err != nil {
			slog.Error("failed to resolve secrets", "error", err)
			os.Exit(1)
		}
	}

	var policyStore *policy.Store
	if cfg.PolicyPath != "" {
		policyStore = policy.NewStore(append([]string{cfg.PolicyPath}, policy.DefaultSearchPaths()...)...)
	} else {
		policyStore = policy.NewStore()
	}

	doc, err := policyStore.Load()
	if err != nil {
		slog.Error("failed to load rate limit policy", "error", err)
		os.Exit(1)
	}

	backend := ratelimit.Connect(ctx, cfg.RedisURL, cfg.RedisTimeout)
	metrics.SetBackend(backend.Name())

	var (
		counters ratelimit.Backend = backend
		dedup    alert.Deduplicator
		checkers []api.HealthChecker
	)

	if rb, ok := backend.(*ratelimit.RedisBackend); ok {
		defer rb.Close()

		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			SuccessThreshold: 1,
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				slog.Warn("counter backend circuit breaker changed state",
					"from", from.String(),
					"to", to.String(),
				)
				metrics.SetCircuitBreakerState(rb.Name(), int(to))
			},
		})
		counters = ratelimit.Guard(rb, breaker)
		dedup = alert.NewRedisDeduplicatorWithClient(rb.Client(), alert.DefaultDedupTTL)
		checkers = append(checkers, api.NewRedisHealthCheckerWithClient(rb.Client()))
	} else {
		dedup = alert.NewInMemoryDeduplicator(alert.DefaultDedupTTL)
		checkers = append(checkers, api.NewFallbackChecker("counter_backend", "using in-memory counters"))
	}

	dispatcher := alert.NewDispatcher(dedup)
	dispatcher.OnAlert(alert.LogHandler)

	if cfg.AlertTopicARN != "" {
		notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			slog.Warn("failed to create SNS notifier, alerts will only be logged", "error", err)
		} else {
			dispatcher.OnAlert(alert.NotifierHandler(notifier))
			slog.Info("alert notifications enabled", "topic_arn", cfg.AlertTopicARN)
		}
	}

	localRoutes := make([]gate.LocalRoute, 0, len(doc.RateLimits.LocalBuckets))
	for _, lb := range doc.RateLimits.LocalBuckets {
		localRoutes = append(localRoutes, gate.LocalRoute{
			Prefix:  lb.Route,
			Limiter: ratelimit.NewTokenBucketLimiter(lb.RatePerSecond, lb.Burst),
		})
		slog.Info("local token bucket registered", "route", lb.Route, "rate_per_sec", lb.RatePerSecond, "burst", lb.Burst)
	}

	requestGate := gate.New(gate.Config{
		RateLimiter:        ratelimit.NewTieredLimiter(doc, counters, ratelimit.WithAlerter(dispatcher)),
		Quota:              quota.NewCounter(doc, counters, quota.WithAlerter(dispatcher)),
		LocalRoutes:        localRoutes,
		EnableRateLimit:    cfg.EnableRateLimit,
		EnableWebhookQuota: cfg.EnableWebhookQuota,
		RateLimitPrefixes:  cfg.RateLimitPrefixes,
		TrustForwardedFor:  cfg.TrustForwardedFor,
	})

	slog.Info("request gate configured",
		"rate_limit", cfg.EnableRateLimit,
		"webhook_quota", cfg.EnableWebhookQuota,
		"backend", backend.Name(),
		"policy", policyStore.Path(),
	)

	var upstream http.Handler
	if cfg.UpstreamURL != "" {
		target, err := url.Parse(cfg.UpstreamURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			slog.Error("invalid upstream url", "url", cfg.UpstreamURL, "error", err)
			os.Exit(1)
		}
		upstream = httputil.NewReverseProxy(target, httputil.DefaultConfig())
		slog.Info("proxying to upstream", "url", target.Redacted())
	}

	handler := api.NewHandler(api.HandlerConfig{
		Gate:     requestGate,
		Upstream: upstream,
		Checkers: checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	dispatcher.Close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
