package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
)

func newTestDeletionService(t *testing.T, deps DeletionServiceDeps) DeletionService {
	t.Helper()

	if deps.Requests == nil {
		deps.Requests = &stubRequestRepo{}
	}
	if deps.History == nil {
		deps.History = &stubHistoryRepo{}
	}
	if deps.SupplierResponses == nil {
		deps.SupplierResponses = &stubSupplierResponseRepo{}
	}
	if deps.Invoices == nil {
		deps.Invoices = &stubInvoiceRepo{}
	}
	if deps.Products == nil {
		deps.Products = &stubProductRepo{}
	}
	if deps.ProductMedia == nil {
		deps.ProductMedia = &stubProductMediaRepo{}
	}

	svc, err := NewDeletionService(deps)
	if err != nil {
		t.Fatalf("NewDeletionService returned error: %v", err)
	}
	return svc
}

func gateRequest(status domain.RequestStatus, resolution domain.ResolutionStatus, processing bool) domain.Request {
	return domain.Request{
		ID:               "req_1",
		CustomerID:       "user_1",
		ProductID:        "prod_1",
		Status:           status,
		ResolutionStatus: resolution,
		AdminProcessing:  processing,
	}
}

func TestDeletionServiceAdminGate(t *testing.T) {
	cases := []struct {
		name    string
		request domain.Request
		allowed bool
	}{
		{
			name:    "processing claim blocks deletion",
			request: gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, true),
			allowed: false,
		},
		{
			name:    "pending without resolution record",
			request: gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, false),
			allowed: true,
		},
		{
			name:    "approved without resolution record",
			request: gateRequest(domain.RequestStatusApproved, domain.ResolutionStatusNone, false),
			allowed: false,
		},
		{
			name:    "fulfilled with notified resolution",
			request: gateRequest(domain.RequestStatusFulfilled, domain.ResolutionStatusNotified, false),
			allowed: true,
		},
		{
			name:    "pending with notified resolution",
			request: gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNotified, false),
			allowed: true,
		},
		{
			name:    "resolved requests stay",
			request: gateRequest(domain.RequestStatusRejected, domain.ResolutionStatusResolved, false),
			allowed: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestDeletionService(t, DeletionServiceDeps{
				Requests: &stubRequestRepo{
					findFn: func(context.Context, string) (domain.Request, error) {
						return tc.request, nil
					},
				},
			})

			decision, err := svc.CheckDeletionSafety(context.Background(), "req_1")
			if err != nil {
				t.Fatalf("CheckDeletionSafety returned error: %v", err)
			}
			if decision.Allowed != tc.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tc.allowed, decision)
			}
			if !decision.Allowed && decision.Reason == "" {
				t.Fatal("denials must carry a reason")
			}
		})
	}
}

func TestDeletionServiceOwnerGate(t *testing.T) {
	invoiceID := "inv_1"

	newService := func(request domain.Request, invoiceStatus domain.InvoiceStatus) DeletionService {
		return newTestDeletionService(t, DeletionServiceDeps{
			Requests: &stubRequestRepo{
				findFn: func(context.Context, string) (domain.Request, error) {
					return request, nil
				},
			},
			Invoices: &stubInvoiceRepo{
				findFn: func(_ context.Context, id string) (domain.Invoice, error) {
					return domain.Invoice{ID: id, Status: invoiceStatus}, nil
				},
			},
		})
	}

	t.Run("owner of pending unpaid request", func(t *testing.T) {
		request := gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, false)
		request.InvoiceID = &invoiceID

		decision, err := newService(request, domain.InvoiceStatusDraft).IsDeletionAllowedForOwner(context.Background(), "req_1", "user_1")
		if err != nil {
			t.Fatalf("IsDeletionAllowedForOwner returned error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("expected allowed, got %+v", decision)
		}
	})

	t.Run("other users are denied", func(t *testing.T) {
		request := gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, false)

		decision, err := newService(request, domain.InvoiceStatusDraft).IsDeletionAllowedForOwner(context.Background(), "req_1", "user_2")
		if err != nil {
			t.Fatalf("IsDeletionAllowedForOwner returned error: %v", err)
		}
		if decision.Allowed {
			t.Fatal("expected denial for non-owner")
		}
	})

	t.Run("non-pending requests are denied", func(t *testing.T) {
		request := gateRequest(domain.RequestStatusApproved, domain.ResolutionStatusNone, false)

		decision, err := newService(request, domain.InvoiceStatusDraft).IsDeletionAllowedForOwner(context.Background(), "req_1", "user_1")
		if err != nil {
			t.Fatalf("IsDeletionAllowedForOwner returned error: %v", err)
		}
		if decision.Allowed {
			t.Fatal("expected denial for approved request")
		}
	})

	t.Run("paid invoice blocks deletion", func(t *testing.T) {
		request := gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, false)
		request.InvoiceID = &invoiceID

		decision, err := newService(request, domain.InvoiceStatusPaid).IsDeletionAllowedForOwner(context.Background(), "req_1", "user_1")
		if err != nil {
			t.Fatalf("IsDeletionAllowedForOwner returned error: %v", err)
		}
		if decision.Allowed {
			t.Fatal("expected denial for paid invoice")
		}
		if decision.Reason != "Paid requests cannot be deleted" {
			t.Fatalf("unexpected reason: %q", decision.Reason)
		}
	})
}

func TestDeletionServiceVerifyRequestCount(t *testing.T) {
	svc := newTestDeletionService(t, DeletionServiceDeps{
		Requests: &stubRequestRepo{
			countByProductFn: func(_ context.Context, productID string) (int, error) {
				if productID == "prod_free" {
					return 0, nil
				}
				return 2, nil
			},
		},
	})

	free, err := svc.VerifyRequestCount(context.Background(), "prod_free")
	if err != nil {
		t.Fatalf("VerifyRequestCount returned error: %v", err)
	}
	if !free {
		t.Fatal("expected product without requests to be deletable")
	}

	free, err = svc.VerifyRequestCount(context.Background(), "prod_busy")
	if err != nil {
		t.Fatalf("VerifyRequestCount returned error: %v", err)
	}
	if free {
		t.Fatal("expected product with requests to be blocked")
	}
}

func TestDeletionServiceDeleteRequestCascade(t *testing.T) {
	invoiceID := "inv_1"
	var deletedInvoice, deletedRequest string

	svc := newTestDeletionService(t, DeletionServiceDeps{
		Requests: &stubRequestRepo{
			findFn: func(_ context.Context, requestID string) (domain.Request, error) {
				request := gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, false)
				request.ID = requestID
				request.InvoiceID = &invoiceID
				return request, nil
			},
			deleteFn: func(_ context.Context, requestID string) error {
				deletedRequest = requestID
				return nil
			},
		},
		History: &stubHistoryRepo{
			deleteByRequestFn: func(context.Context, string) (int, error) { return 3, nil },
		},
		SupplierResponses: &stubSupplierResponseRepo{
			deleteByRequestFn: func(context.Context, string) (int, error) { return 2, nil },
		},
		Invoices: &stubInvoiceRepo{
			deleteFn: func(_ context.Context, id string) error {
				deletedInvoice = id
				return nil
			},
		},
	})

	result, err := svc.DeleteRequestCascade(context.Background(), "req_1")
	if err != nil {
		t.Fatalf("DeleteRequestCascade returned error: %v", err)
	}

	if result.WasAlreadyDeleted {
		t.Fatal("request existed, expected a real deletion")
	}
	if result.HistoryDeleted != 3 || result.ResponsesDeleted != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if !result.InvoiceDeleted || deletedInvoice != "inv_1" {
		t.Fatalf("expected invoice cascade, got %+v (deleted %q)", result, deletedInvoice)
	}
	if deletedRequest != "req_1" {
		t.Fatalf("expected request row deletion, got %q", deletedRequest)
	}
}

func TestDeletionServiceDeleteRequestCascadeAlreadyGone(t *testing.T) {
	svc := newTestDeletionService(t, DeletionServiceDeps{
		Requests: &stubRequestRepo{
			findFn: func(context.Context, string) (domain.Request, error) {
				return domain.Request{}, notFoundErr("already deleted")
			},
		},
	})

	result, err := svc.DeleteRequestCascade(context.Background(), "req_1")
	if err != nil {
		t.Fatalf("DeleteRequestCascade returned error: %v", err)
	}
	if !result.WasAlreadyDeleted {
		t.Fatal("expected already-deleted report")
	}
}

func TestDeletionServiceDeleteRequestCascadeRace(t *testing.T) {
	svc := newTestDeletionService(t, DeletionServiceDeps{
		Requests: &stubRequestRepo{
			findFn: func(_ context.Context, requestID string) (domain.Request, error) {
				return gateRequest(domain.RequestStatusPending, domain.ResolutionStatusNone, false), nil
			},
			deleteFn: func(context.Context, string) error {
				return notFoundErr("deleted concurrently")
			},
		},
		History: &stubHistoryRepo{
			deleteByRequestFn: func(context.Context, string) (int, error) { return 0, nil },
		},
		SupplierResponses: &stubSupplierResponseRepo{
			deleteByRequestFn: func(context.Context, string) (int, error) { return 0, nil },
		},
	})

	result, err := svc.DeleteRequestCascade(context.Background(), "req_1")
	if err != nil {
		t.Fatalf("a concurrent deletion is not an error: %v", err)
	}
	if !result.WasAlreadyDeleted {
		t.Fatal("expected race downgraded to already-deleted")
	}
}

func TestDeletionServiceDeleteProductCascadeBlocked(t *testing.T) {
	svc := newTestDeletionService(t, DeletionServiceDeps{
		Requests: &stubRequestRepo{
			countByProductFn: func(context.Context, string) (int, error) { return 2, nil },
		},
		Products: &stubProductRepo{
			findFn: func(_ context.Context, productID string) (domain.Product, error) {
				return domain.Product{ID: productID}, nil
			},
		},
	})

	_, err := svc.DeleteProductCascade(context.Background(), "prod_1")
	if !errors.Is(err, ErrProductBlockedByRequests) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestDeletionServiceDeleteProductCascade(t *testing.T) {
	deletedObjects := []string{}
	var deletedProduct string

	svc := newTestDeletionService(t, DeletionServiceDeps{
		Requests: &stubRequestRepo{
			countByProductFn: func(context.Context, string) (int, error) { return 0, nil },
		},
		Products: &stubProductRepo{
			findFn: func(_ context.Context, productID string) (domain.Product, error) {
				return domain.Product{ID: productID}, nil
			},
			deleteFn: func(_ context.Context, productID string) error {
				deletedProduct = productID
				return nil
			},
		},
		ProductMedia: &stubProductMediaRepo{
			listFn: func(_ context.Context, productID string) ([]domain.ProductMedia, error) {
				return []domain.ProductMedia{
					{ID: "med_1", ProductID: productID, ObjectRef: "products/prod_1/a.jpg", UploadedAt: time.Now()},
					{ID: "med_2", ProductID: productID, ObjectRef: "products/prod_1/b.jpg", UploadedAt: time.Now()},
				}, nil
			},
			deleteByProductFn: func(context.Context, string) (int, error) { return 2, nil },
		},
		Objects: &stubObjectStore{
			deleteFn: func(_ context.Context, objectRef string) error {
				deletedObjects = append(deletedObjects, objectRef)
				return nil
			},
		},
	})

	result, err := svc.DeleteProductCascade(context.Background(), "prod_1")
	if err != nil {
		t.Fatalf("DeleteProductCascade returned error: %v", err)
	}

	if result.MediaDeleted != 2 {
		t.Fatalf("expected 2 media rows deleted, got %d", result.MediaDeleted)
	}
	if len(deletedObjects) != 2 {
		t.Fatalf("expected 2 objects deleted, got %v", deletedObjects)
	}
	if deletedProduct != "prod_1" {
		t.Fatalf("expected product deletion, got %q", deletedProduct)
	}
}
