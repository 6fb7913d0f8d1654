package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/quotagate/internal/secrets"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL       string
	RedisURLSecret string
	RedisTimeout   time.Duration
	AWSRegion      string

	PolicyPath string

	EnableRateLimit    bool
	EnableWebhookQuota bool
	RateLimitPrefixes  []string
	TrustForwardedFor  bool

	UpstreamURL      string
	OTLPEndpoint     string
	TraceSampleRatio float64
	AlertTopicARN    string

	// Circuit breaker in front of the counter store
	BreakerFailures int
	BreakerTimeout  time.Duration

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getEnv("ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisURLSecret:     getEnv("REDIS_URL_SECRET", ""),
		RedisTimeout:       getDurationEnv("REDIS_TIMEOUT", 2*time.Second),
		AWSRegion:          getEnv("AWS_REGION", ""),
		PolicyPath:         getEnv("POLICY_PATH", ""),
		EnableRateLimit:    getBoolEnv("ENABLE_RATE_LIMIT", false),
		EnableWebhookQuota: getBoolEnv("ENABLE_WEBHOOK_QUOTA", true),
		RateLimitPrefixes:  getListEnv("RATE_LIMIT_PREFIXES", []string{"/api/"}),
		TrustForwardedFor:  getBoolEnv("TRUST_FORWARDED_FOR", false),
		UpstreamURL:        getEnv("UPSTREAM_URL", ""),
		OTLPEndpoint:       getEnv("OTLP_ENDPOINT", ""),
		TraceSampleRatio:   getFloatEnv("TRACE_SAMPLE_RATIO", 1),
		AlertTopicARN:      getEnv("ALERT_TOPIC_ARN", ""),
		BreakerFailures:    getIntEnv("BREAKER_FAILURES", 5),
		BreakerTimeout:     getDurationEnv("BREAKER_TIMEOUT", 10*time.Second),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.AlertTopicARN != "" && cfg.AWSRegion == "" {
		return nil, fmt.Errorf("ALERT_TOPIC_ARN requires AWS_REGION")
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %g", cfg.TraceSampleRatio)
	}
	if cfg.RedisURLSecret != "" && cfg.AWSRegion == "" {
		return nil, fmt.Errorf("REDIS_URL_SECRET requires AWS_REGION")
	}

	return cfg, nil
}

// ResolveSecrets replaces RedisURL with the value stored under
// RedisURLSecret ("name" or "name#field"), when one is configured.
func (c *Config) ResolveSecrets(ctx context.Context, store secrets.Store) error {
	if c.RedisURLSecret == "" {
		return nil
	}

	url, err := secrets.Resolve(ctx, store, c.RedisURLSecret)
	if err != nil {
		return fmt.Errorf("resolve redis url secret: %w", err)
	}
	c.RedisURL = strings.TrimSpace(url)

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
