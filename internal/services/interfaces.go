package services

import (
	"context"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Request            = domain.Request
	RequestStatus      = domain.RequestStatus
	ResolutionStatus   = domain.ResolutionStatus
	Invoice            = domain.Invoice
	InvoiceStatus      = domain.InvoiceStatus
	PaymentOutcome     = domain.PaymentOutcome
	StatusHistoryEntry = domain.StatusHistoryEntry
	Notification       = domain.Notification
	NotificationType   = domain.NotificationType
	Product            = domain.Product
	ProductMedia       = domain.ProductMedia
	SupplierResponse   = domain.SupplierResponse
	HealthReport       = domain.HealthReport
)

// RequestService orchestrates the request lifecycle: creation, the coordinated
// status transition, the resolution track, and claim housekeeping.
type RequestService interface {
	CreateRequest(ctx context.Context, cmd CreateRequestCommand) (Request, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	ListRequests(ctx context.Context, customerID string, pager Pagination) (domain.CursorPage[Request], error)
	ListHistory(ctx context.Context, requestID string, pager Pagination) (domain.CursorPage[StatusHistoryEntry], error)
	Transition(ctx context.Context, cmd TransitionCommand) (Request, error)
	UpdateResolution(ctx context.Context, cmd ResolutionCommand) (Request, error)
	ReleaseStaleClaims(ctx context.Context) (int, error)
}

// CreateRequestCommand captures inputs for request creation.
type CreateRequestCommand struct {
	CustomerID string
	ProductID  string
	Quantity   int
	Notes      string
}

// TransitionCommand captures inputs for a coordinated status transition.
type TransitionCommand struct {
	RequestID string
	NewStatus RequestStatus
	ActorID   string
	Notes     string
	Metadata  map[string]any
}

// ResolutionCommand advances the product-unavailable resolution track.
type ResolutionCommand struct {
	RequestID string
	NewStatus ResolutionStatus
	ActorID   string
	Notes     string
}

// InvoiceSyncService reconciles invoice status from request transitions and
// payment-provider events, with payment events taking precedence.
type InvoiceSyncService interface {
	SyncFromRequestStatus(ctx context.Context, requestID string, status RequestStatus) (SyncResult, error)
	SyncFromPaymentEvent(ctx context.Context, cmd PaymentEventCommand) error
}

// SyncResult reports whether a request-driven sync wrote the invoice.
type SyncResult struct {
	Applied bool
	Status  InvoiceStatus
}

// PaymentEventCommand carries a normalised payment-provider outcome.
type PaymentEventCommand struct {
	InvoiceID       string
	Outcome         PaymentOutcome
	PaymentIntentID string
	OccurredAt      time.Time
}

// NotificationService creates notification rows and fans them out to subscribers.
// Read-state updates are idempotent; unread counts are computed by query.
type NotificationService interface {
	CreateNotification(ctx context.Context, cmd CreateNotificationCommand) (Notification, error)
	ListNotifications(ctx context.Context, userID string, filter NotificationFilter) (domain.CursorPage[Notification], error)
	MarkAsRead(ctx context.Context, userID string, notificationID string) error
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// CreateNotificationCommand captures inputs for notification creation.
type CreateNotificationCommand struct {
	UserID        string
	Type          NotificationType
	Content       string
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]any
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	Pagination Pagination
	UnreadOnly bool
	Type       *NotificationType
}

// NotificationEventMessage is the payload published on the notification channel.
type NotificationEventMessage struct {
	NotificationID string            `json:"notificationId"`
	UserID         string            `json:"userId"`
	Type           string            `json:"type"`
	Content        string            `json:"content"`
	ReferenceID    string            `json:"referenceId,omitempty"`
	ReferenceType  string            `json:"referenceType,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// NotificationEventPublisher publishes notification events for subscribers.
type NotificationEventPublisher interface {
	PublishNotification(ctx context.Context, message NotificationEventMessage) (string, error)
}

// DeletionService gates and executes cascading removal of requests and products.
type DeletionService interface {
	CheckDeletionSafety(ctx context.Context, requestID string) (DeletionDecision, error)
	IsDeletionAllowedForOwner(ctx context.Context, requestID string, actingUserID string) (DeletionDecision, error)
	VerifyRequestCount(ctx context.Context, productID string) (bool, error)
	DeleteRequestCascade(ctx context.Context, requestID string) (DeletionResult, error)
	DeleteProductCascade(ctx context.Context, productID string) (DeletionResult, error)
}

// DeletionDecision reports a gate outcome with a human-readable reason on denial.
type DeletionDecision struct {
	Allowed bool
	Reason  string
}

// DeletionResult summarises a cascade deletion.
type DeletionResult struct {
	WasAlreadyDeleted bool
	HistoryDeleted    int
	ResponsesDeleted  int
	MediaDeleted      int
	InvoiceDeleted    bool
}

// ObjectStore deletes backing media objects. Implementations must treat
// deleting a missing object as success.
type ObjectStore interface {
	Delete(ctx context.Context, objectRef string) error
}

// SystemService exposes aggregated dependency health for readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}
