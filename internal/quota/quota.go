// Package quota counts webhook deliveries per tenant, platform and UTC day.
package quota

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/felipepmaragno/quotagate/internal/alert"
	"github.com/felipepmaragno/quotagate/internal/metrics"
	"github.com/felipepmaragno/quotagate/internal/policy"
	"github.com/felipepmaragno/quotagate/internal/telemetry"
)

const UnknownPlatform = "unknown"

var (
	platformPattern = regexp.MustCompile(`/(shopify|woocommerce|square|stripe|paypal|quickbooks|xero|salesforce|hubspot|slack|mailchimp)`)

	webhookPathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^/api/integrations/.+/webhooks`),
		regexp.MustCompile(`^/webhooks/.+`),
		regexp.MustCompile(`^/api/webhooks/.+`),
	}
)

// Incrementer is the part of the counter store the quota needs.
type Incrementer interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Alerter interface {
	Dispatch(ctx context.Context, a alert.Alert) bool
}

type Result struct {
	Allowed  bool
	Used     int
	Limit    int
	Tier     string
	Platform string

	// Degraded is set when the store failed and the delivery was not counted.
	Degraded bool
}

type Option func(*Counter)

func WithAlerter(a Alerter) Option {
	return func(c *Counter) { c.alerter = a }
}

type Counter struct {
	policy  *policy.Document
	store   Incrementer
	alerter Alerter
}

func NewCounter(doc *policy.Document, store Incrementer, opts ...Option) *Counter {
	c := &Counter{policy: doc, store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAndIncrement counts one delivery and reports whether it fits in the
// tenant's daily quota. The count is incremented even when the result is a
// denial, so Used can exceed Limit.
func (c *Counter) CheckAndIncrement(ctx context.Context, tenantID, tier, platform string, now time.Time) Result {
	ctx, span := telemetry.StartSpan(ctx, "quota.check_and_increment")
	defer span.End()

	tier = strings.ToLower(tier)
	res := Result{
		Limit:    c.policy.WebhooksPerDay(tier),
		Tier:     tier,
		Platform: platform,
	}

	key, ttl := DayKey(tenantID, platform, now)
	used, err := c.store.Increment(ctx, key, ttl)
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Warn("webhook quota backend error, allowing request",
			"tenant_id", tenantID,
			"platform", platform,
			"error", err,
		)
		res.Allowed = true
		res.Degraded = true
		metrics.RecordWebhookQuotaDecision(platform, tier, metrics.OutcomeDegraded)
		return res
	}

	res.Used = int(used)
	res.Allowed = res.Used <= res.Limit
	telemetry.AddQuotaAttributes(span, platform, res.Used, res.Limit)

	if res.Allowed {
		metrics.RecordWebhookQuotaDecision(platform, tier, metrics.OutcomeAllowed)
		return res
	}

	metrics.RecordWebhookQuotaDecision(platform, tier, metrics.OutcomeLimited)
	if c.alerter != nil {
		c.alerter.Dispatch(ctx, alert.Alert{
			Type:      alert.TypeWebhookQuotaExhausted,
			TenantID:  tenantID,
			Tier:      tier,
			Platform:  platform,
			Used:      res.Used,
			Limit:     res.Limit,
			Message:   "daily webhook quota exhausted",
			Timestamp: now,
		})
	}

	return res
}

// DayKey returns the counter key for the UTC day containing now and the time
// left until the next UTC midnight, never less than one second.
func DayKey(tenantID, platform string, now time.Time) (string, time.Duration) {
	utc := now.UTC()
	key := "webhook_quota:" + tenantID + ":" + platform + ":" + utc.Format("20060102")

	midnight := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	ttl := midnight.Sub(utc).Truncate(time.Second)
	if ttl < time.Second {
		ttl = time.Second
	}

	return key, ttl
}

// PlatformFromPath names the integration a webhook path belongs to.
func PlatformFromPath(path string) string {
	m := platformPattern.FindStringSubmatch(path)
	if m == nil {
		return UnknownPlatform
	}
	return m[1]
}

func IsWebhookPath(path string) bool {
	for _, p := range webhookPathPatterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}
