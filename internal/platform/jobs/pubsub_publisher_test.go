package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sourcelane/api/internal/services"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "notification-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}

	createdAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	msg := services.NotificationEventMessage{
		NotificationID: "ntf_test",
		UserID:         "user-1",
		Type:           "status_change",
		Content:        "Your request was approved",
		ReferenceID:    "req_test",
		ReferenceType:  "request",
		CreatedAt:      createdAt,
		Attributes: map[string]string{
			"previousStatus": "pending",
			"  ":             "dropped",
		},
	}

	if _, err := publisher.PublishNotification(ctx, msg); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.NotificationEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.NotificationID != msg.NotificationID || payload.UserID != msg.UserID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["userId"]; attr != "user-1" {
		t.Fatalf("expected userId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["previousStatus"]; attr != "pending" {
		t.Fatalf("expected previousStatus attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["content"]; ok {
		t.Fatalf("content attribute should not be present")
	}
}
