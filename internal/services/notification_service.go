package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/repositories"
)

const notificationIDPrefix = "ntf_"

var (
	// ErrNotificationInvalidInput signals the caller provided invalid data.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the notification could not be located.
	ErrNotificationNotFound = errors.New("notification: not found")
	// ErrNotificationForbidden indicates the notification belongs to another user.
	ErrNotificationForbidden = errors.New("notification: access denied")
)

// NotificationServiceDeps bundles collaborators required to construct the notification service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Publisher     NotificationEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	publisher     NotificationEventPublisher
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService wires dependencies into a concrete NotificationService implementation.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		publisher:     deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateNotification persists the notification and then hands it to the event
// publisher. Delivery is at-least-once: the stored row is the source of truth
// and downstream consumers dedupe on the notification id, so a publish failure
// is logged rather than unwinding the write.
func (s *notificationService) CreateNotification(ctx context.Context, cmd CreateNotificationCommand) (Notification, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Notification{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	if !isValidNotificationType(cmd.Type) {
		return Notification{}, fmt.Errorf("%w: unknown type %q", ErrNotificationInvalidInput, cmd.Type)
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return Notification{}, fmt.Errorf("%w: content is required", ErrNotificationInvalidInput)
	}

	now := s.now()
	notification := Notification{
		ID:            notificationIDPrefix + s.newID(),
		UserID:        userID,
		Type:          cmd.Type,
		Content:       content,
		ReferenceID:   strings.TrimSpace(cmd.ReferenceID),
		ReferenceType: strings.TrimSpace(cmd.ReferenceType),
		Metadata:      cloneMap(cmd.Metadata),
		ReadStatus:    false,
		CreatedAt:     now,
	}

	if err := s.notifications.Insert(ctx, notification); err != nil {
		return Notification{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, notification)
	return notification, nil
}

func (s *notificationService) ListNotifications(ctx context.Context, userID string, filter NotificationFilter) (domain.CursorPage[Notification], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Notification]{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	if filter.Type != nil && !isValidNotificationType(*filter.Type) {
		return domain.CursorPage[Notification]{}, fmt.Errorf("%w: unknown type %q", ErrNotificationInvalidInput, *filter.Type)
	}

	page, err := s.notifications.ListByUser(ctx, userID, repositories.NotificationListFilter{
		Pagination: filter.Pagination,
		UnreadOnly: filter.UnreadOnly,
		Type:       filter.Type,
	})
	if err != nil {
		return domain.CursorPage[Notification]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// MarkAsRead flips a single notification to read. Marking an already-read
// notification succeeds without a write.
func (s *notificationService) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("%w: notification id is required", ErrNotificationInvalidInput)
	}

	notification, err := s.notifications.FindByID(ctx, notificationID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if notification.UserID != userID {
		return fmt.Errorf("%w: notification %s", ErrNotificationForbidden, notificationID)
	}
	if notification.ReadStatus {
		return nil
	}

	if err := s.notifications.MarkRead(ctx, notificationID, s.now()); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// MarkAllAsRead flips every unread notification for the user and reports how
// many rows changed. Zero unread is a successful no-op.
func (s *notificationService) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}

	updated, err := s.notifications.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}

	count, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return count, nil
}

func (s *notificationService) publishEvent(ctx context.Context, notification Notification) {
	if s.publisher == nil {
		return
	}

	attributes := map[string]string{}
	for key, value := range notification.Metadata {
		if str, ok := value.(string); ok && str != "" {
			attributes[key] = str
		}
	}

	messageID, err := s.publisher.PublishNotification(ctx, NotificationEventMessage{
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		Type:           string(notification.Type),
		Content:        notification.Content,
		ReferenceID:    notification.ReferenceID,
		ReferenceType:  notification.ReferenceType,
		CreatedAt:      notification.CreatedAt,
		Attributes:     attributes,
	})
	if err != nil {
		s.logger(ctx, "notification.event.publish.failed", map[string]any{
			"notification": notification.ID,
			"user":         notification.UserID,
			"error":        err.Error(),
		})
		return
	}

	s.logger(ctx, "notification.event.published", map[string]any{
		"notification": notification.ID,
		"message":      messageID,
	})
}

func (s *notificationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotificationNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("notification: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *notificationService) now() time.Time {
	return s.clock()
}

func isValidNotificationType(kind NotificationType) bool {
	switch kind {
	case domain.NotificationTypeStatusChange, domain.NotificationTypePayment,
		domain.NotificationTypeProductUnavailable:
		return true
	}
	return false
}
