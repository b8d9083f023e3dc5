package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
)

func newTestInvoiceSyncService(t *testing.T, deps InvoiceSyncServiceDeps) *invoiceSyncService {
	t.Helper()

	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	}
	if deps.Async == nil {
		// Run follow-up work inline so assertions see it.
		deps.Async = func(fn func()) { fn() }
	}
	if deps.Notifications == nil {
		deps.Notifications = &stubNotificationSvc{
			createFn: func(_ context.Context, cmd CreateNotificationCommand) (Notification, error) {
				return Notification{ID: "ntf_stub", UserID: cmd.UserID}, nil
			},
		}
	}

	svc, err := NewInvoiceSyncService(deps)
	if err != nil {
		t.Fatalf("NewInvoiceSyncService returned error: %v", err)
	}
	return svc
}

func TestInvoiceSyncFromRequestStatusApplies(t *testing.T) {
	var wroteStatus domain.InvoiceStatus
	var wroteInvoice string
	var loggedFields map[string]any

	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			findByRequestFn: func(_ context.Context, requestID string) (domain.Invoice, error) {
				return domain.Invoice{ID: "inv_1", RequestID: requestID, Status: domain.InvoiceStatusDraft}, nil
			},
			updateUnlessPaidFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, _ time.Time) (bool, error) {
				wroteInvoice = invoiceID
				wroteStatus = status
				return true, nil
			},
		},
		Requests: &stubRequestRepo{},
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if event == "invoice.sync.applied" {
				loggedFields = fields
			}
		},
	})

	result, err := svc.SyncFromRequestStatus(context.Background(), "req_1", domain.RequestStatusApproved)
	if err != nil {
		t.Fatalf("SyncFromRequestStatus returned error: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected sync to apply")
	}
	if result.Status != domain.InvoiceStatusSent {
		t.Fatalf("expected sent, got %q", result.Status)
	}
	if wroteInvoice != "inv_1" || wroteStatus != domain.InvoiceStatusSent {
		t.Fatalf("unexpected write: %s %s", wroteInvoice, wroteStatus)
	}
	if loggedFields == nil {
		t.Fatal("expected applied sync to be logged")
	}
	if loggedFields["mappingVersion"] != statusMappingVersion {
		t.Fatalf("expected mapping version in the sync log, got %v", loggedFields["mappingVersion"])
	}
}

func TestInvoiceSyncFromRequestStatusPaidIsSticky(t *testing.T) {
	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			findByRequestFn: func(_ context.Context, requestID string) (domain.Invoice, error) {
				return domain.Invoice{ID: "inv_1", RequestID: requestID, Status: domain.InvoiceStatusPaid}, nil
			},
			updateUnlessPaidFn: func(context.Context, string, domain.InvoiceStatus, time.Time) (bool, error) {
				return false, nil
			},
		},
		Requests: &stubRequestRepo{},
	})

	result, err := svc.SyncFromRequestStatus(context.Background(), "req_1", domain.RequestStatusRejected)
	if err != nil {
		t.Fatalf("a skipped write is not an error: %v", err)
	}
	if result.Applied {
		t.Fatal("paid invoice must not be overwritten from the request side")
	}
	if result.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected paid reported back, got %q", result.Status)
	}
}

func TestInvoiceSyncFromRequestStatusNoInvoice(t *testing.T) {
	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			findByRequestFn: func(context.Context, string) (domain.Invoice, error) {
				return domain.Invoice{}, notFoundErr("no invoice for request")
			},
		},
		Requests: &stubRequestRepo{},
	})

	result, err := svc.SyncFromRequestStatus(context.Background(), "req_1", domain.RequestStatusApproved)
	if err != nil {
		t.Fatalf("missing invoice is not an error: %v", err)
	}
	if result.Applied {
		t.Fatal("nothing to sync, expected Applied=false")
	}
}

func TestInvoiceSyncFromPaymentSucceeded(t *testing.T) {
	var wroteStatus domain.InvoiceStatus
	var wroteIntent *string
	var notified *CreateNotificationCommand
	var triggered *TransitionCommand

	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			updateFromPaymentFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, paymentIntentID *string, _ time.Time) (domain.Invoice, error) {
				wroteStatus = status
				wroteIntent = paymentIntentID
				return domain.Invoice{ID: invoiceID, RequestID: "req_1", Status: status}, nil
			},
		},
		Requests: &stubRequestRepo{
			findFn: func(_ context.Context, requestID string) (domain.Request, error) {
				return domain.Request{ID: requestID, CustomerID: "user_1", Status: domain.RequestStatusApproved}, nil
			},
		},
		Notifications: &stubNotificationSvc{
			createFn: func(_ context.Context, cmd CreateNotificationCommand) (Notification, error) {
				notified = &cmd
				return Notification{ID: "ntf_1"}, nil
			},
		},
	})
	svc.BindTransitionTrigger(&stubTransitionTrigger{
		transitionFn: func(_ context.Context, cmd TransitionCommand) (Request, error) {
			triggered = &cmd
			return Request{ID: cmd.RequestID, Status: cmd.NewStatus}, nil
		},
	})

	err := svc.SyncFromPaymentEvent(context.Background(), PaymentEventCommand{
		InvoiceID:       "inv_1",
		Outcome:         domain.PaymentOutcomeSucceeded,
		PaymentIntentID: "pi_123",
	})
	if err != nil {
		t.Fatalf("SyncFromPaymentEvent returned error: %v", err)
	}

	if wroteStatus != domain.InvoiceStatusPaid {
		t.Fatalf("expected paid, got %q", wroteStatus)
	}
	if wroteIntent == nil || *wroteIntent != "pi_123" {
		t.Fatalf("expected payment intent recorded, got %v", wroteIntent)
	}
	if notified == nil || notified.Type != domain.NotificationTypePayment {
		t.Fatalf("expected payment notification, got %+v", notified)
	}
	if triggered == nil {
		t.Fatal("expected fulfilled transition to be scheduled")
	}
	if triggered.RequestID != "req_1" || triggered.NewStatus != domain.RequestStatusFulfilled {
		t.Fatalf("unexpected transition: %+v", triggered)
	}
}

func TestInvoiceSyncFromPaymentFailed(t *testing.T) {
	var wroteStatus domain.InvoiceStatus
	triggered := false

	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			updateFromPaymentFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, _ *string, _ time.Time) (domain.Invoice, error) {
				wroteStatus = status
				return domain.Invoice{ID: invoiceID, RequestID: "req_1", Status: status}, nil
			},
		},
		Requests: &stubRequestRepo{
			findFn: func(_ context.Context, requestID string) (domain.Request, error) {
				return domain.Request{ID: requestID, CustomerID: "user_1", Status: domain.RequestStatusApproved}, nil
			},
		},
	})
	svc.BindTransitionTrigger(&stubTransitionTrigger{
		transitionFn: func(context.Context, TransitionCommand) (Request, error) {
			triggered = true
			return Request{}, nil
		},
	})

	err := svc.SyncFromPaymentEvent(context.Background(), PaymentEventCommand{
		InvoiceID: "inv_1",
		Outcome:   domain.PaymentOutcomeFailed,
	})
	if err != nil {
		t.Fatalf("SyncFromPaymentEvent returned error: %v", err)
	}

	if wroteStatus != domain.InvoiceStatusFailed {
		t.Fatalf("expected failed, got %q", wroteStatus)
	}
	if triggered {
		t.Fatal("failed payments must not schedule fulfilment")
	}
}

func TestInvoiceSyncFromPaymentAlreadyFulfilled(t *testing.T) {
	triggered := false

	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			updateFromPaymentFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, _ *string, _ time.Time) (domain.Invoice, error) {
				return domain.Invoice{ID: invoiceID, RequestID: "req_1", Status: status}, nil
			},
		},
		Requests: &stubRequestRepo{
			findFn: func(_ context.Context, requestID string) (domain.Request, error) {
				return domain.Request{ID: requestID, CustomerID: "user_1", Status: domain.RequestStatusFulfilled}, nil
			},
		},
	})
	svc.BindTransitionTrigger(&stubTransitionTrigger{
		transitionFn: func(context.Context, TransitionCommand) (Request, error) {
			triggered = true
			return Request{}, nil
		},
	})

	err := svc.SyncFromPaymentEvent(context.Background(), PaymentEventCommand{
		InvoiceID: "inv_1",
		Outcome:   domain.PaymentOutcomeSucceeded,
	})
	if err != nil {
		t.Fatalf("SyncFromPaymentEvent returned error: %v", err)
	}
	if triggered {
		t.Fatal("fulfilled request needs no further transition")
	}
}

func TestInvoiceSyncFromPaymentUnknownOutcome(t *testing.T) {
	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{},
		Requests: &stubRequestRepo{},
	})

	err := svc.SyncFromPaymentEvent(context.Background(), PaymentEventCommand{
		InvoiceID: "inv_1",
		Outcome:   domain.PaymentOutcome("refunded"),
	})
	if !errors.Is(err, ErrInvoiceInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestInvoiceSyncFromPaymentMissingRequestLogsOnly(t *testing.T) {
	svc := newTestInvoiceSyncService(t, InvoiceSyncServiceDeps{
		Invoices: &stubInvoiceRepo{
			updateFromPaymentFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, _ *string, _ time.Time) (domain.Invoice, error) {
				return domain.Invoice{ID: invoiceID, RequestID: "req_gone", Status: status}, nil
			},
		},
		Requests: &stubRequestRepo{
			findFn: func(context.Context, string) (domain.Request, error) {
				return domain.Request{}, notFoundErr("request deleted")
			},
		},
	})

	err := svc.SyncFromPaymentEvent(context.Background(), PaymentEventCommand{
		InvoiceID: "inv_1",
		Outcome:   domain.PaymentOutcomeFailed,
	})
	if err != nil {
		t.Fatalf("invoice update stuck, webhook must still succeed: %v", err)
	}
}
