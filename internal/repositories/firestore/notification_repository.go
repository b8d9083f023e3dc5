package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sourcelane/api/internal/domain"
	pfirestore "github.com/sourcelane/api/internal/platform/firestore"
	"github.com/sourcelane/api/internal/repositories"
)

const notificationsCollection = "notifications"

type notificationDocument struct {
	UserID        string         `firestore:"userId"`
	Type          string         `firestore:"type"`
	Content       string         `firestore:"content"`
	ReferenceID   string         `firestore:"referenceId,omitempty"`
	ReferenceType string         `firestore:"referenceType,omitempty"`
	Metadata      map[string]any `firestore:"metadata,omitempty"`
	ReadStatus    bool           `firestore:"readStatus"`
	ReadAt        *time.Time     `firestore:"readAt,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt"`
}

// NotificationRepository implements repositories.NotificationRepository backed by Firestore.
type NotificationRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[notificationDocument]
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	base := pfirestore.NewCollection[notificationDocument](provider, notificationsCollection)
	return &NotificationRepository{provider: provider, base: base}, nil
}

// Insert creates the notification document and fails when the id already exists.
func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	ref, err := r.base.Doc(ctx, notification.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeNotification(notification)); err != nil {
		return pfirestore.WrapError("notifications.insert", err)
	}
	return nil
}

// FindByID fetches a single notification.
func (r *NotificationRepository) FindByID(ctx context.Context, notificationID string) (domain.Notification, error) {
	doc, err := r.base.Get(ctx, notificationID)
	if err != nil {
		return domain.Notification{}, pfirestore.WrapError("notifications.find", err)
	}
	return decodeNotification(doc.ID, doc.Data), nil
}

// ListByUser returns notifications newest first with cursor pagination and
// optional unread/type filters.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository: user id is required")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}

	query := coll.Where("userId", "==", userID)
	if filter.UnreadOnly {
		query = query.Where("readStatus", "==", false)
	}
	if filter.Type != nil {
		query = query.Where("type", "==", string(*filter.Type))
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	var fetchLimit int
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("notifications.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []domain.Notification
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, pfirestore.WrapError("notifications.list", err)
		}
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("decode notification %s: %w", snap.Ref.ID, err)
		}
		items = append(items, decodeNotification(snap.Ref.ID, doc))
	}

	nextToken := ""
	if limit > 0 && len(items) == fetchLimit {
		last := items[len(items)-1]
		nextToken = encodeCursorToken(last.CreatedAt, last.ID)
		items = items[:len(items)-1]
	}

	return domain.CursorPage[domain.Notification]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// MarkRead flips readStatus on a single notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string, at time.Time) error {
	ref, err := r.base.Doc(ctx, notificationID)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, []firestore.Update{
		{Path: "readStatus", Value: true},
		{Path: "readAt", Value: at.UTC()},
	}); err != nil {
		return pfirestore.WrapError("notifications.markRead", err)
	}
	return nil
}

// MarkAllRead flips readStatus on every unread notification for the user and
// returns how many documents changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errors.New("notification repository: user id is required")
	}

	iter := coll.Where("userId", "==", userID).
		Where("readStatus", "==", false).
		Documents(ctx)
	defer iter.Stop()

	updated := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return updated, pfirestore.WrapError("notifications.markAllRead", err)
		}
		if _, err := snap.Ref.Update(ctx, []firestore.Update{
			{Path: "readStatus", Value: true},
			{Path: "readAt", Value: at.UTC()},
		}); err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return updated, pfirestore.WrapError("notifications.markAllRead", err)
		}
		updated++
	}
	return updated, nil
}

// CountUnread counts unread notifications for the user via a server-side aggregation.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errors.New("notification repository: user id is required")
	}

	query := coll.Where("userId", "==", userID).
		Where("readStatus", "==", false)
	agg := query.NewAggregationQuery().WithCount("total")
	results, err := agg.Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("notifications.countUnread", err)
	}
	value, ok := results["total"].(*firestorepb.Value)
	if !ok {
		return 0, errors.New("notification repository: unexpected aggregation result")
	}
	return int(value.GetIntegerValue()), nil
}

func (r *NotificationRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("notification repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(notificationsCollection), nil
}

func encodeNotification(notification domain.Notification) notificationDocument {
	return notificationDocument{
		UserID:        notification.UserID,
		Type:          string(notification.Type),
		Content:       notification.Content,
		ReferenceID:   notification.ReferenceID,
		ReferenceType: notification.ReferenceType,
		Metadata:      notification.Metadata,
		ReadStatus:    notification.ReadStatus,
		CreatedAt:     notification.CreatedAt.UTC(),
	}
}

func decodeNotification(id string, doc notificationDocument) domain.Notification {
	return domain.Notification{
		ID:            id,
		UserID:        doc.UserID,
		Type:          domain.NotificationType(doc.Type),
		Content:       doc.Content,
		ReferenceID:   doc.ReferenceID,
		ReferenceType: doc.ReferenceType,
		Metadata:      doc.Metadata,
		ReadStatus:    doc.ReadStatus,
		CreatedAt:     doc.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.NotificationRepository = (*NotificationRepository)(nil)
