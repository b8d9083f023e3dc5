package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/services"
)

func newAdminRouter(requests services.RequestService, deletion services.DeletionService) chi.Router {
	handler := NewAdminHandlers(nil, requests, deletion)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminHandlersTransitionRequest(t *testing.T) {
	var captured services.TransitionCommand
	service := &stubRequestService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Request, error) {
			captured = cmd
			return services.Request{ID: cmd.RequestID, CustomerID: "user-1", Status: cmd.NewStatus}, nil
		},
	}
	router := newAdminRouter(service, nil)

	body := bytes.NewBufferString(`{"status":"approved","notes":"verified stock","metadata":{"source":"console"}}`)
	req := authenticated(httptest.NewRequest(http.MethodPost, "/admin/requests/req_1/transition", body), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.RequestID != "req_1" {
		t.Fatalf("expected request req_1, got %s", captured.RequestID)
	}
	if captured.NewStatus != domain.RequestStatusApproved {
		t.Fatalf("expected approved target, got %s", captured.NewStatus)
	}
	if captured.ActorID != "admin-1" {
		t.Fatalf("expected actor admin-1, got %s", captured.ActorID)
	}
	if captured.Notes != "verified stock" {
		t.Fatalf("unexpected notes: %q", captured.Notes)
	}
	if captured.Metadata["source"] != "console" {
		t.Fatalf("unexpected metadata: %+v", captured.Metadata)
	}
}

func TestAdminHandlersTransitionConflict(t *testing.T) {
	service := &stubRequestService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Request, error) {
			return services.Request{}, services.ErrRequestConflict
		},
	}
	router := newAdminRouter(service, nil)

	body := bytes.NewBufferString(`{"status":"approved"}`)
	req := authenticated(httptest.NewRequest(http.MethodPost, "/admin/requests/req_1/transition", body), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error != "request_conflict" {
		t.Fatalf("expected request_conflict code, got %s", payload.Error)
	}
}

func TestAdminHandlersTransitionPartialFailure(t *testing.T) {
	service := &stubRequestService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Request, error) {
			return services.Request{}, &services.PartialFailureError{
				RequestID: cmd.RequestID,
				Completed: []string{"status_write", "history_append"},
				Err:       fmt.Errorf("invoice write timed out"),
			}
		},
	}
	router := newAdminRouter(service, nil)

	body := bytes.NewBufferString(`{"status":"approved"}`)
	req := authenticated(httptest.NewRequest(http.MethodPost, "/admin/requests/req_1/transition", body), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error != "partial_failure" {
		t.Fatalf("expected partial_failure code, got %s", payload.Error)
	}
	if !bytes.Contains([]byte(payload.Message), []byte("status_write")) {
		t.Fatalf("expected completed steps in message, got %q", payload.Message)
	}
}

func TestAdminHandlersResolveRequest(t *testing.T) {
	var captured services.ResolutionCommand
	service := &stubRequestService{
		resolveFn: func(ctx context.Context, cmd services.ResolutionCommand) (services.Request, error) {
			captured = cmd
			return services.Request{ID: cmd.RequestID, ResolutionStatus: cmd.NewStatus}, nil
		},
	}
	router := newAdminRouter(service, nil)

	body := bytes.NewBufferString(`{"resolution_status":"notified","notes":"supplier discontinued"}`)
	req := authenticated(httptest.NewRequest(http.MethodPost, "/admin/requests/req_1/resolve", body), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.NewStatus != domain.ResolutionStatusNotified {
		t.Fatalf("expected notified target, got %s", captured.NewStatus)
	}
	if captured.ActorID != "admin-1" {
		t.Fatalf("expected actor admin-1, got %s", captured.ActorID)
	}
}

func TestAdminHandlersDeletionSafety(t *testing.T) {
	deletion := &stubDeletionService{
		checkFn: func(ctx context.Context, requestID string) (services.DeletionDecision, error) {
			return services.DeletionDecision{Allowed: false, Reason: "Resolved requests cannot be deleted"}, nil
		},
	}
	router := newAdminRouter(&stubRequestService{}, deletion)

	req := authenticated(httptest.NewRequest(http.MethodGet, "/admin/requests/req_1/deletion-safety", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Allowed {
		t.Fatalf("expected denial")
	}
	if payload.Reason != "Resolved requests cannot be deleted" {
		t.Fatalf("unexpected reason: %q", payload.Reason)
	}
}

func TestAdminHandlersDeleteRequestGated(t *testing.T) {
	cascadeCalled := false
	deletion := &stubDeletionService{
		checkFn: func(ctx context.Context, requestID string) (services.DeletionDecision, error) {
			return services.DeletionDecision{Allowed: false, Reason: "An admin operation is currently in progress for this request"}, nil
		},
		deleteRequestFn: func(ctx context.Context, requestID string) (services.DeletionResult, error) {
			cascadeCalled = true
			return services.DeletionResult{}, nil
		},
	}
	router := newAdminRouter(&stubRequestService{}, deletion)

	req := authenticated(httptest.NewRequest(http.MethodDelete, "/admin/requests/req_1", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if cascadeCalled {
		t.Fatalf("cascade must not run when the gate denies")
	}
}

func TestAdminHandlersDeleteProductBlocked(t *testing.T) {
	deletion := &stubDeletionService{
		deleteProductFn: func(ctx context.Context, productID string) (services.DeletionResult, error) {
			return services.DeletionResult{}, fmt.Errorf("%w: 2 request(s) reference product %s", services.ErrProductBlockedByRequests, productID)
		},
	}
	router := newAdminRouter(&stubRequestService{}, deletion)

	req := authenticated(httptest.NewRequest(http.MethodDelete, "/admin/products/prod_1", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error != "product_blocked" {
		t.Fatalf("expected product_blocked code, got %s", payload.Error)
	}
}

func TestAdminHandlersDeleteProduct(t *testing.T) {
	deletion := &stubDeletionService{
		deleteProductFn: func(ctx context.Context, productID string) (services.DeletionResult, error) {
			return services.DeletionResult{MediaDeleted: 2}, nil
		},
	}
	router := newAdminRouter(&stubRequestService{}, deletion)

	req := authenticated(httptest.NewRequest(http.MethodDelete, "/admin/products/prod_1", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload struct {
		Deleted      bool `json:"deleted"`
		MediaDeleted int  `json:"media_deleted"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Deleted || payload.MediaDeleted != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
