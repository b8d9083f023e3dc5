package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/repositories"
)

var (
	// ErrInvoiceInvalidInput signals the caller provided invalid data.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceNotFound indicates the invoice could not be located.
	ErrInvoiceNotFound = errors.New("invoice: not found")
	// ErrInvoiceConflict indicates a concurrent write conflicted.
	ErrInvoiceConflict = errors.New("invoice: conflict")
)

// TransitionTrigger starts a request status transition. The request service
// satisfies it; the indirection exists because payment events flow the other
// way around the usual request -> invoice direction.
type TransitionTrigger interface {
	Transition(ctx context.Context, cmd TransitionCommand) (Request, error)
}

// InvoiceSyncServiceDeps bundles collaborators required to construct the invoice sync service.
type InvoiceSyncServiceDeps struct {
	Invoices      repositories.InvoiceRepository
	Requests      repositories.RequestRepository
	Notifications NotificationService
	Clock         func() time.Time
	// Async schedules payment-driven follow-up work off the webhook path.
	// Defaults to spawning a goroutine.
	Async  func(fn func())
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type invoiceSyncService struct {
	invoices      repositories.InvoiceRepository
	requests      repositories.RequestRepository
	notifications NotificationService
	clock         func() time.Time
	async         func(func())
	logger        func(context.Context, string, map[string]any)

	transitions atomic.Pointer[transitionTriggerBox]
}

type transitionTriggerBox struct {
	trigger TransitionTrigger
}

var _ InvoiceSyncService = (*invoiceSyncService)(nil)

// NewInvoiceSyncService wires dependencies into a concrete InvoiceSyncService
// implementation. The transition trigger is bound after construction because
// the request service depends on this service in turn.
func NewInvoiceSyncService(deps InvoiceSyncServiceDeps) (*invoiceSyncService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice sync service: invoice repository is required")
	}
	if deps.Requests == nil {
		return nil, errors.New("invoice sync service: request repository is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("invoice sync service: notification service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	async := deps.Async
	if async == nil {
		async = func(fn func()) {
			go fn()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &invoiceSyncService{
		invoices:      deps.Invoices,
		requests:      deps.Requests,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		async:  async,
		logger: logger,
	}, nil
}

// BindTransitionTrigger installs the request-side transition entry point used
// when a successful payment must move the request to fulfilled.
func (s *invoiceSyncService) BindTransitionTrigger(trigger TransitionTrigger) {
	s.transitions.Store(&transitionTriggerBox{trigger: trigger})
}

// SyncFromRequestStatus projects a request status onto its invoice. A paid
// invoice is never overwritten from the request side: the precondition is
// enforced by the storage layer in the same write, and a skipped update is
// reported as Applied=false rather than an error.
func (s *invoiceSyncService) SyncFromRequestStatus(ctx context.Context, requestID string, status RequestStatus) (SyncResult, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return SyncResult{}, fmt.Errorf("%w: request id is required", ErrInvoiceInvalidInput)
	}

	target, err := MapRequestStatusToInvoiceStatus(status)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %v", ErrInvoiceInvalidInput, err)
	}

	invoice, err := s.invoices.FindByRequest(ctx, requestID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			// Requests without an invoice have nothing to sync.
			return SyncResult{Applied: false}, nil
		}
		return SyncResult{}, s.mapRepositoryError(err)
	}

	applied, err := s.invoices.UpdateStatusUnlessPaid(ctx, invoice.ID, target, s.now())
	if err != nil {
		return SyncResult{}, s.mapRepositoryError(err)
	}
	if !applied {
		s.logger(ctx, "invoice.sync.skipped_paid", map[string]any{
			"invoice": invoice.ID,
			"request": requestID,
			"target":  string(target),
		})
		return SyncResult{Applied: false, Status: domain.InvoiceStatusPaid}, nil
	}

	s.logger(ctx, "invoice.sync.applied", map[string]any{
		"invoice":        invoice.ID,
		"request":        requestID,
		"status":         string(target),
		"mappingVersion": statusMappingVersion,
	})
	return SyncResult{Applied: true, Status: target}, nil
}

// SyncFromPaymentEvent applies a provider payment outcome to the invoice.
// Payment truth wins unconditionally over any request-derived status. A
// successful payment also schedules the request transition to fulfilled and
// notifies the customer.
func (s *invoiceSyncService) SyncFromPaymentEvent(ctx context.Context, cmd PaymentEventCommand) error {
	invoiceID := strings.TrimSpace(cmd.InvoiceID)
	if invoiceID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvoiceInvalidInput)
	}

	var target InvoiceStatus
	switch cmd.Outcome {
	case domain.PaymentOutcomeSucceeded:
		target = domain.InvoiceStatusPaid
	case domain.PaymentOutcomeFailed:
		target = domain.InvoiceStatusFailed
	default:
		return fmt.Errorf("%w: unknown payment outcome %q", ErrInvoiceInvalidInput, cmd.Outcome)
	}

	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	var paymentIntentID *string
	if intent := strings.TrimSpace(cmd.PaymentIntentID); intent != "" {
		paymentIntentID = valuePtr(intent)
	}

	invoice, err := s.invoices.UpdateStatusFromPayment(ctx, invoiceID, target, paymentIntentID, occurredAt)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "invoice.payment.applied", map[string]any{
		"invoice": invoice.ID,
		"request": invoice.RequestID,
		"status":  string(target),
	})

	request, err := s.requests.FindByID(ctx, invoice.RequestID)
	if err != nil {
		// The invoice status stuck; the missing request is an inconsistency
		// worth surfacing, not a reason to fail the webhook.
		s.logger(ctx, "invoice.payment.request.missing", map[string]any{
			"invoice": invoice.ID,
			"request": invoice.RequestID,
			"error":   err.Error(),
		})
		return nil
	}

	s.notifyPaymentOutcome(ctx, request, invoice, cmd.Outcome)

	if cmd.Outcome == domain.PaymentOutcomeSucceeded && request.Status != domain.RequestStatusFulfilled {
		s.scheduleFulfilled(ctx, request)
	}
	return nil
}

func (s *invoiceSyncService) notifyPaymentOutcome(ctx context.Context, request Request, invoice Invoice, outcome PaymentOutcome) {
	content := fmt.Sprintf("Payment for your request %s", outcome)
	if _, err := s.notifications.CreateNotification(ctx, CreateNotificationCommand{
		UserID:        request.CustomerID,
		Type:          domain.NotificationTypePayment,
		Content:       content,
		ReferenceID:   invoice.ID,
		ReferenceType: "invoice",
		Metadata: map[string]any{
			"requestId": request.ID,
			"outcome":   string(outcome),
		},
	}); err != nil {
		s.logger(ctx, "invoice.payment.notify.failed", map[string]any{
			"invoice": invoice.ID,
			"error":   err.Error(),
		})
	}
}

func (s *invoiceSyncService) scheduleFulfilled(ctx context.Context, request Request) {
	box := s.transitions.Load()
	if box == nil || box.trigger == nil {
		s.logger(ctx, "invoice.payment.transition.unbound", map[string]any{
			"request": request.ID,
		})
		return
	}
	trigger := box.trigger

	// The transition runs off the webhook path with a fresh context so the
	// provider response is never held up by coordinator work.
	bgCtx := context.WithoutCancel(ctx)
	s.async(func() {
		if _, err := trigger.Transition(bgCtx, TransitionCommand{
			RequestID: request.ID,
			NewStatus: domain.RequestStatusFulfilled,
			ActorID:   "system:payments",
			Notes:     "Payment received",
			Metadata: map[string]any{
				"trigger": "payment",
			},
		}); err != nil {
			// A conflict means another coordinator got there first.
			s.logger(bgCtx, "invoice.payment.transition.failed", map[string]any{
				"request": request.ID,
				"error":   err.Error(),
			})
		}
	})
}

func (s *invoiceSyncService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInvoiceNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInvoiceConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("invoice: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *invoiceSyncService) now() time.Time {
	return s.clock()
}
