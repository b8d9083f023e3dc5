package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/sourcelane/api/internal/platform/textutil"
	"github.com/sourcelane/api/internal/services"
)

// PubSubNotificationPublisher publishes notification events to a Pub/Sub topic.
// Delivery is at-least-once; subscribers deduplicate by notification id.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification enqueues a notification event on the configured topic keyed
// by the recipient user so subscribers can filter per-user streams.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, message services.NotificationEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal notification event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", message.NotificationID)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "type", message.Type)
	setAttr(attrs, "referenceId", message.ReferenceID)
	setAttr(attrs, "referenceType", message.ReferenceType)
	for key, value := range textutil.NormalizeStringMap(message.Attributes) {
		setAttr(attrs, key, value)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
