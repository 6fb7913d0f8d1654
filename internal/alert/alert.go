// Package alert notifies operators about quota exhaustion and degraded
// counter storage. Alerts are deduplicated so that several gateway
// instances observing the same condition send one notification.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/quotagate/internal/metrics"
	"github.com/felipepmaragno/quotagate/internal/notifications"
)

type Type string

const (
	TypeWebhookQuotaExhausted Type = "webhook_quota_exhausted"
	TypeBackendDegraded       Type = "backend_degraded"
)

const defaultHandlerTimeout = 5 * time.Second

type Alert struct {
	Type      Type
	TenantID  string
	Tier      string
	Platform  string
	Used      int
	Limit     int
	Backend   string
	Message   string
	Timestamp time.Time
}

// Key identifies the condition an alert reports. Quota alerts repeat at most
// once per tenant, platform and UTC day; backend alerts once per hour.
func (a Alert) Key() string {
	ts := a.Timestamp.UTC()
	switch a.Type {
	case TypeWebhookQuotaExhausted:
		return fmt.Sprintf("%s:%s:%s:%s", a.Type, a.TenantID, a.Platform, ts.Format("20060102"))
	case TypeBackendDegraded:
		return fmt.Sprintf("%s:%s:%s", a.Type, a.Backend, ts.Format("2006010215"))
	default:
		return fmt.Sprintf("%s:%s:%d", a.Type, a.TenantID, ts.Unix())
	}
}

type Handler func(ctx context.Context, alert Alert)

// Dispatcher fans alerts out to handlers in the background.
//
// Deduplication runs in two steps. An in-process filter drops repeats on the
// calling goroutine without I/O; the shared deduplicator, which may be remote,
// is consulted only inside the background goroutine under the handler timeout.
type Dispatcher struct {
	mu       sync.Mutex
	handlers []Handler
	local    *InMemoryDeduplicator
	shared   Deduplicator
	wg       sync.WaitGroup
	closed   bool
	timeout  time.Duration
}

func NewDispatcher(dedup Deduplicator) *Dispatcher {
	d := &Dispatcher{timeout: defaultHandlerTimeout}
	if mem, ok := dedup.(*InMemoryDeduplicator); ok {
		d.local = mem
	} else {
		d.local = NewInMemoryDeduplicator(DefaultDedupTTL)
		d.shared = dedup
	}
	return d
}

func (d *Dispatcher) OnAlert(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// Dispatch queues alert for the handlers unless this process already saw an
// equivalent alert. It never blocks on I/O and reports whether the alert was
// queued; the shared deduplicator may still suppress it afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) bool {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	key := alert.Key()

	if !d.local.ShouldAlert(ctx, key) {
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if d.shared != nil && !d.shared.ShouldAlert(hctx, key) {
			return
		}
		metrics.RecordAlert(string(alert.Type))

		for _, handler := range handlers {
			handler(hctx, alert)
		}
	}()

	return true
}

// Close stops accepting alerts and waits for in-flight handlers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

func LogHandler(ctx context.Context, alert Alert) {
	slog.Warn("operator alert",
		"type", alert.Type,
		"tenant_id", alert.TenantID,
		"tier", alert.Tier,
		"platform", alert.Platform,
		"used", alert.Used,
		"limit", alert.Limit,
		"backend", alert.Backend,
		"message", alert.Message,
	)
}

// NotifierHandler forwards alerts to an external notifier such as SNS.
func NotifierHandler(n notifications.Notifier) Handler {
	return func(ctx context.Context, alert Alert) {
		notification := notifications.Notification{
			Type:     notificationType(alert.Type),
			TenantID: alert.TenantID,
			Message:  alert.Message,
			Data: map[string]any{
				"tier":      alert.Tier,
				"platform":  alert.Platform,
				"used":      alert.Used,
				"limit":     alert.Limit,
				"backend":   alert.Backend,
				"timestamp": alert.Timestamp.UTC().Format(time.RFC3339),
			},
		}

		if err := n.Send(ctx, notification); err != nil {
			slog.Error("failed to send alert notification",
				"type", alert.Type,
				"tenant_id", alert.TenantID,
				"error", err,
			)
		}
	}
}

func notificationType(t Type) notifications.NotificationType {
	switch t {
	case TypeWebhookQuotaExhausted:
		return notifications.NotificationWebhookQuotaExhausted
	default:
		return notifications.NotificationBackendDegraded
	}
}
