package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/platform/auth"
	"github.com/sourcelane/api/internal/platform/httpx"
	"github.com/sourcelane/api/internal/platform/pagination"
	"github.com/sourcelane/api/internal/services"
)

// NotificationHandlers exposes the signed-in user's notification inbox.
type NotificationHandlers struct {
	authn         *auth.Authenticator
	notifications services.NotificationService
}

// NewNotificationHandlers constructs a new NotificationHandlers instance.
func NewNotificationHandlers(authn *auth.Authenticator, notifications services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{
		authn:         authn,
		notifications: notifications,
	}
}

// Routes registers the /me/notifications endpoints.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listNotifications)
	r.Get("/unread-count", h.unreadCount)
	r.Post("/read-all", h.markAllAsRead)
	r.Post("/{notificationID}/read", h.markAsRead)
}

func (h *NotificationHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	filter := services.NotificationFilter{
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
		UnreadOnly: strings.EqualFold(strings.TrimSpace(query.Get("unread_only")), "true"),
	}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		kind := domain.NotificationType(raw)
		filter.Type = &kind
	}

	page, err := h.notifications.ListNotifications(ctx, strings.TrimSpace(identity.UID), filter)
	if err != nil {
		writeNotificationError(ctx, w, err)
		return
	}

	items := make([]notificationPayload, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, buildNotificationPayload(item))
	}
	writeJSONResponse(w, http.StatusOK, notificationListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *NotificationHandlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	count, err := h.notifications.UnreadCount(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeNotificationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, unreadCountResponse{UnreadCount: count})
}

func (h *NotificationHandlers) markAsRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	notificationID := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if notificationID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "notification id is required", http.StatusBadRequest))
		return
	}

	if err := h.notifications.MarkAsRead(ctx, strings.TrimSpace(identity.UID), notificationID); err != nil {
		writeNotificationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandlers) markAllAsRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notification_service_unavailable", "notification service unavailable", http.StatusServiceUnavailable))
		return
	}

	updated, err := h.notifications.MarkAllAsRead(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeNotificationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, markAllReadResponse{Updated: updated})
}

type notificationListResponse struct {
	Items         []notificationPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type notificationPayload struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Content       string         `json:"content"`
	ReferenceID   string         `json:"reference_id,omitempty"`
	ReferenceType string         `json:"reference_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Read          bool           `json:"read"`
	CreatedAt     string         `json:"created_at"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

type markAllReadResponse struct {
	Updated int `json:"updated"`
}

func buildNotificationPayload(notification services.Notification) notificationPayload {
	return notificationPayload{
		ID:            notification.ID,
		Type:          string(notification.Type),
		Content:       notification.Content,
		ReferenceID:   notification.ReferenceID,
		ReferenceType: notification.ReferenceType,
		Metadata:      cloneMap(notification.Metadata),
		Read:          notification.ReadStatus,
		CreatedAt:     formatTime(notification.CreatedAt),
	}
}

func writeNotificationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrNotificationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotificationNotFound), errors.Is(err, services.ErrNotificationForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("notification_not_found", "notification not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("notification_error", "failed to process notification", http.StatusInternalServerError))
	}
}
