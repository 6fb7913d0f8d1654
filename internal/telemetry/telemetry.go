// Package telemetry wires OpenTelemetry tracing for gate decisions.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "quotagate"

var (
	keyTenantID  = attribute.Key("tenant.id")
	keyClientIP  = attribute.Key("client.ip")
	keyPath      = attribute.Key("http.path")
	keyTier      = attribute.Key("quotagate.tier")
	keyRequestID = attribute.Key("request.id")

	keyAllowed   = attribute.Key("ratelimit.allowed")
	keyRemaining = attribute.Key("ratelimit.remaining")
	keyDegraded  = attribute.Key("ratelimit.degraded")

	keyPlatform     = attribute.Key("webhook.platform")
	keyWebhookUsed  = attribute.Key("webhook.used")
	keyWebhookLimit = attribute.Key("webhook.limit")
)

var tracerName = defaultTracerName

type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string
	// SampleRatio applies to root spans; child spans follow their parent.
	SampleRatio float64
}

// Init installs the global tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName != "" {
		tracerName = cfg.ServiceName
	}

	if cfg.Endpoint == "" {
		slog.Info("tracing export disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(tracerName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing initialized", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)

	return tp.Shutdown, nil
}

// Tracer resolves through the global provider, so spans started before Init
// are no-ops and later ones are exported.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

func AddRequestAttributes(span trace.Span, tenantID, clientIP, path, tier, requestID string) {
	attrs := []attribute.KeyValue{
		keyClientIP.String(clientIP),
		keyPath.String(path),
		keyRequestID.String(requestID),
	}
	if tenantID != "" {
		attrs = append(attrs, keyTenantID.String(tenantID))
	}
	if tier != "" {
		attrs = append(attrs, keyTier.String(tier))
	}
	span.SetAttributes(attrs...)
}

func AddDecisionAttributes(span trace.Span, allowed bool, remaining int, degraded bool) {
	span.SetAttributes(
		keyAllowed.Bool(allowed),
		keyRemaining.Int(remaining),
		keyDegraded.Bool(degraded),
	)
}

func AddQuotaAttributes(span trace.Span, platform string, used, limit int) {
	span.SetAttributes(
		keyPlatform.String(platform),
		keyWebhookUsed.Int(used),
		keyWebhookLimit.Int(limit),
	)
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the hex trace id of the span in ctx, or "" when the span
// is not sampled.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsSampled() {
		return ""
	}
	return sc.TraceID().String()
}
