package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RequestStatus describes the primary lifecycle track of a sourcing request.
type RequestStatus string

const (
	// RequestStatusPending indicates the request awaits an admin decision.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusApproved indicates an admin accepted the request.
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected indicates the request was declined. Terminal.
	RequestStatusRejected RequestStatus = "rejected"
	// RequestStatusFulfilled indicates the sourced product was delivered. Terminal.
	RequestStatusFulfilled RequestStatus = "fulfilled"
)

// ResolutionStatus tracks the product-unavailable communication flow, independent
// of the primary status track.
type ResolutionStatus string

const (
	// ResolutionStatusNone indicates no unavailability flow has started.
	ResolutionStatusNone ResolutionStatus = "none"
	// ResolutionStatusNotified indicates the customer was told the product is unavailable.
	ResolutionStatusNotified ResolutionStatus = "notified"
	// ResolutionStatusResolved indicates the unavailability was settled with the customer.
	ResolutionStatusResolved ResolutionStatus = "resolved"
)

// InvoiceStatus describes invoice lifecycle states.
type InvoiceStatus string

const (
	// InvoiceStatusDraft indicates the invoice exists but has not been sent.
	InvoiceStatusDraft InvoiceStatus = "draft"
	// InvoiceStatusSent indicates the invoice was issued to the customer.
	InvoiceStatusSent InvoiceStatus = "sent"
	// InvoiceStatusProcessing indicates a payment attempt is in flight.
	InvoiceStatusProcessing InvoiceStatus = "processing"
	// InvoiceStatusPaid indicates payment settled. Sticky against request-driven sync.
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusFailed indicates the payment attempt failed.
	InvoiceStatusFailed InvoiceStatus = "failed"
	// InvoiceStatusCancelled indicates the invoice was withdrawn.
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// PaymentOutcome is the normalised result of a payment-provider event.
type PaymentOutcome string

const (
	// PaymentOutcomeSucceeded indicates the provider settled the payment.
	PaymentOutcomeSucceeded PaymentOutcome = "succeeded"
	// PaymentOutcomeFailed indicates the provider reported a failed payment.
	PaymentOutcomeFailed PaymentOutcome = "failed"
)

// Request is a customer's sourcing ask for a product, with its own approval lifecycle.
type Request struct {
	ID                  string
	CustomerID          string
	ProductID           string
	InvoiceID           *string
	Status              RequestStatus
	ResolutionStatus    ResolutionStatus
	AdminProcessing     bool
	ProcessingClaimedAt *time.Time
	Quantity            int
	Notes               string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasResolutionRecord reports whether the unavailability flow was ever started
// for the request.
func (r Request) HasResolutionRecord() bool {
	return r.ResolutionStatus != "" && r.ResolutionStatus != ResolutionStatusNone
}

// Invoice is the billing record derived from a request, 1:1 once created.
type Invoice struct {
	ID              string
	RequestID       string
	Status          InvoiceStatus
	Amount          int64
	Currency        string
	PaymentIntentID *string
	StatusUpdatedAt time.Time
	CreatedAt       time.Time
}

// StatusHistoryEntry is one append-only audit row for a request transition.
type StatusHistoryEntry struct {
	ID        string
	RequestID string
	Status    RequestStatus
	Notes     string
	UpdatedBy string
	CreatedAt time.Time
}

// NotificationType enumerates the notification categories the dispatcher emits.
type NotificationType string

const (
	// NotificationTypeStatusChange announces a request status transition.
	NotificationTypeStatusChange NotificationType = "status_change"
	// NotificationTypePayment announces a payment outcome on an invoice.
	NotificationTypePayment NotificationType = "payment"
	// NotificationTypeProductUnavailable announces that a requested product became unavailable.
	NotificationTypeProductUnavailable NotificationType = "product_unavailable"
)

// Notification is a per-user message row. Immutable except for ReadStatus.
type Notification struct {
	ID            string
	UserID        string
	Type          NotificationType
	Content       string
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]any
	ReadStatus    bool
	CreatedAt     time.Time
}

// Product is a catalog item customers may raise requests against.
type Product struct {
	ID          string
	Name        string
	Description string
	SupplierID  string
	Available   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductMedia references a stored media object attached to a product.
type ProductMedia struct {
	ID         string
	ProductID  string
	ObjectRef  string
	Kind       string
	SortOrder  int
	UploadedAt time.Time
}

// HealthStatus summarises the outcome of a dependency probe.
type HealthStatus string

const (
	// HealthStatusOK indicates the dependency responded normally.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the dependency timed out or was unreachable.
	HealthStatusError HealthStatus = "error"
)

// HealthCheck is the result of probing a single dependency.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probe results for readiness responses.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}

// SupplierResponse is an opaque supplier-side reply attached to a request,
// removed together with the request on cascade deletion.
type SupplierResponse struct {
	ID         string
	RequestID  string
	SupplierID string
	Payload    map[string]any
	CreatedAt  time.Time
}
