// Package notifications delivers operator alerts outside the process.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNS rejects subjects of 100 characters or more.
const maxSubjectLen = 99

type NotificationType string

const (
	NotificationWebhookQuotaExhausted NotificationType = "webhook_quota_exhausted"
	NotificationBackendDegraded       NotificationType = "backend_degraded"
)

// Notification is published as the JSON message body.
type Notification struct {
	Type     NotificationType `json:"type"`
	TenantID string           `json:"tenant_id,omitempty"`
	Message  string           `json:"message"`
	Data     map[string]any   `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// Publisher is the part of the SNS client the notifier calls.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes notifications to one topic. Type, TenantID and the
// platform in Data become message attributes so subscriptions can filter.
type SNSNotifier struct {
	publisher Publisher
	topicARN  string
}

func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicARN), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicARN string) *SNSNotifier {
	return NewSNSNotifierWithPublisher(sns.NewFromConfig(cfg), topicARN)
}

func NewSNSNotifierWithPublisher(p Publisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{publisher: p, topicARN: topicARN}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	out, err := n.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(n.topicARN),
		Subject:           aws.String(subject(notification)),
		Message:           aws.String(string(body)),
		MessageAttributes: messageAttributes(notification),
	})
	if err != nil {
		return fmt.Errorf("publish %s notification: %w", notification.Type, err)
	}

	slog.Debug("alert notification published",
		"type", notification.Type,
		"tenant_id", notification.TenantID,
		"message_id", aws.ToString(out.MessageId),
	)

	return nil
}

// subject renders a one-line summary. Tenant ids come from request headers,
// so anything outside printable ASCII is dropped.
func subject(n Notification) string {
	s := "quotagate: " + strings.ReplaceAll(string(n.Type), "_", " ")
	if n.TenantID != "" {
		s += " for " + n.TenantID
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, s)
	if len(s) > maxSubjectLen {
		s = s[:maxSubjectLen]
	}
	return s
}

func messageAttributes(n Notification) map[string]snstypes.MessageAttributeValue {
	attrs := map[string]snstypes.MessageAttributeValue{
		"Type": stringAttribute(string(n.Type)),
	}
	if n.TenantID != "" {
		attrs["TenantID"] = stringAttribute(n.TenantID)
	}
	if platform, ok := n.Data["platform"].(string); ok && platform != "" {
		attrs["Platform"] = stringAttribute(platform)
	}
	return attrs
}

func stringAttribute(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// InMemoryNotifier records notifications instead of sending them.
type InMemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

// Sent returns a copy of every notification recorded so far.
func (n *InMemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}
