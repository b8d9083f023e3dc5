package repositories

import (
	"context"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Requests() RequestRepository
	Invoices() InvoiceRepository
	StatusHistory() StatusHistoryRepository
	Notifications() NotificationRepository
	Products() ProductRepository
	ProductMedia() ProductMediaRepository
	SupplierResponses() SupplierResponseRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RequestRepository persists sourcing requests and owns the processing claim primitive.
type RequestRepository interface {
	Insert(ctx context.Context, request domain.Request) error
	Update(ctx context.Context, request domain.Request) error
	FindByID(ctx context.Context, requestID string) (domain.Request, error)
	ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Request], error)
	CountByProduct(ctx context.Context, productID string) (int, error)
	Delete(ctx context.Context, requestID string) error

	// ClaimProcessing sets adminProcessing through a single conditional write and
	// fails with a conflict when another coordinator already holds the claim.
	ClaimProcessing(ctx context.Context, requestID string, claimedAt time.Time) (domain.Request, error)
	ReleaseProcessing(ctx context.Context, requestID string) error
	// ReleaseStaleClaims clears claims older than before and returns how many it released.
	ReleaseStaleClaims(ctx context.Context, before time.Time) (int, error)
}

// InvoiceRepository persists invoices and the conditional status writes the sync paths need.
type InvoiceRepository interface {
	Insert(ctx context.Context, invoice domain.Invoice) error
	FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error)
	FindByRequest(ctx context.Context, requestID string) (domain.Invoice, error)
	// UpdateStatusUnlessPaid writes status inside a store transaction and reports
	// applied=false without writing when the invoice is already paid.
	UpdateStatusUnlessPaid(ctx context.Context, invoiceID string, status domain.InvoiceStatus, at time.Time) (bool, error)
	// UpdateStatusFromPayment writes the payment-derived status unconditionally.
	UpdateStatusFromPayment(ctx context.Context, invoiceID string, status domain.InvoiceStatus, paymentIntentID *string, at time.Time) (domain.Invoice, error)
	Delete(ctx context.Context, invoiceID string) error
}

// StatusHistoryRepository is the append-only audit trail for request transitions.
type StatusHistoryRepository interface {
	Append(ctx context.Context, entry domain.StatusHistoryEntry) error
	ListByRequest(ctx context.Context, requestID string, pager domain.Pagination) (domain.CursorPage[domain.StatusHistoryEntry], error)
	DeleteByRequest(ctx context.Context, requestID string) (int, error)
}

// NotificationRepository stores per-user notification rows.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	FindByID(ctx context.Context, notificationID string) (domain.Notification, error)
	ListByUser(ctx context.Context, userID string, filter NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	MarkRead(ctx context.Context, notificationID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

// NotificationListFilter narrows notification listings.
type NotificationListFilter struct {
	Pagination domain.Pagination
	UnreadOnly bool
	Type       *domain.NotificationType
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Delete(ctx context.Context, productID string) error
}

// ProductMediaRepository persists media references attached to products.
type ProductMediaRepository interface {
	ListByProduct(ctx context.Context, productID string) ([]domain.ProductMedia, error)
	DeleteByProduct(ctx context.Context, productID string) (int, error)
}

// SupplierResponseRepository persists supplier replies keyed by request.
type SupplierResponseRepository interface {
	Insert(ctx context.Context, response domain.SupplierResponse) error
	ListByRequest(ctx context.Context, requestID string) ([]domain.SupplierResponse, error)
	DeleteByRequest(ctx context.Context, requestID string) (int, error)
}

// HealthRepository probes backing dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
