package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sourcelane/api/internal/platform/auth"
	"github.com/sourcelane/api/internal/platform/httpx"
	"github.com/sourcelane/api/internal/platform/pagination"
	"github.com/sourcelane/api/internal/services"
)

const (
	maxRequestBodySize = 16 * 1024

	createRequestRateLimit  = 30
	createRequestRateWindow = time.Minute
)

type createRequestPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

// RequestHandlers exposes the customer-facing request endpoints.
type RequestHandlers struct {
	authn    *auth.Authenticator
	requests services.RequestService
	deletion services.DeletionService
	limiter  rateLimiter
}

// NewRequestHandlers constructs a new RequestHandlers instance.
func NewRequestHandlers(authn *auth.Authenticator, requests services.RequestService, deletion services.DeletionService) *RequestHandlers {
	return &RequestHandlers{
		authn:    authn,
		requests: requests,
		deletion: deletion,
		limiter:  newSubmissionThrottle(createRequestRateLimit, createRequestRateWindow, nil),
	}
}

// Routes registers the /requests endpoints.
func (h *RequestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createRequest)
	r.Get("/", h.listRequests)
	r.Get("/{requestID}", h.getRequest)
	r.Get("/{requestID}/history", h.listHistory)
	r.Delete("/{requestID}", h.deleteRequest)
}

func (h *RequestHandlers) createRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil {
		if allowed, retryAfter := h.limiter.Allow(identity.UID); !allowed {
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			}
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests, slow down", http.StatusTooManyRequests))
			return
		}
	}

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var payload createRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	request, err := h.requests.CreateRequest(ctx, services.CreateRequestCommand{
		CustomerID: strings.TrimSpace(identity.UID),
		ProductID:  payload.ProductID,
		Quantity:   payload.Quantity,
		Notes:      payload.Notes,
	})
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, requestResponse{Request: buildRequestPayload(request)})
}

func (h *RequestHandlers) listRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.requests.ListRequests(ctx, strings.TrimSpace(identity.UID), services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	items := make([]requestPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildRequestPayload(request))
	}
	writeJSONResponse(w, http.StatusOK, requestListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *RequestHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.requests.GetRequest(ctx, requestID)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	if !ownsRequest(identity, request) {
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "request not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, requestResponse{Request: buildRequestPayload(request)})
}

func (h *RequestHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.requests.GetRequest(ctx, requestID)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	if !ownsRequest(identity, request) {
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "request not found", http.StatusNotFound))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.requests.ListHistory(ctx, requestID, services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	items := make([]historyEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, historyEntryPayload{
			ID:        entry.ID,
			Status:    string(entry.Status),
			Notes:     entry.Notes,
			UpdatedBy: entry.UpdatedBy,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, historyListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

// deleteRequest runs the owner-side gate before the cascade. State-based
// denial reasons are passed through so the customer sees why the request must
// stay; requests owned by someone else are reported as not found, the same as
// every other read on this surface.
func (h *RequestHandlers) deleteRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.deletion == nil {
		httpx.WriteError(ctx, w, httpx.NewError("deletion_service_unavailable", "deletion service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.requests.GetRequest(ctx, requestID)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	if !ownsRequest(identity, request) {
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "request not found", http.StatusNotFound))
		return
	}

	decision, err := h.deletion.IsDeletionAllowedForOwner(ctx, requestID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeDeletionError(ctx, w, err)
		return
	}
	if !decision.Allowed {
		httpx.WriteError(ctx, w, httpx.NewError("deletion_denied", decision.Reason, http.StatusConflict))
		return
	}

	result, err := h.deletion.DeleteRequestCascade(ctx, requestID)
	if err != nil {
		writeDeletionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, deletionResultPayload{
		Deleted:           !result.WasAlreadyDeleted,
		WasAlreadyDeleted: result.WasAlreadyDeleted,
		HistoryDeleted:    result.HistoryDeleted,
		ResponsesDeleted:  result.ResponsesDeleted,
		InvoiceDeleted:    result.InvoiceDeleted,
	})
}

type requestListResponse struct {
	Items         []requestPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type requestResponse struct {
	Request requestPayload `json:"request"`
}

type requestPayload struct {
	ID               string `json:"id"`
	CustomerID       string `json:"customer_id"`
	ProductID        string `json:"product_id"`
	InvoiceID        string `json:"invoice_id,omitempty"`
	Status           string `json:"status"`
	ResolutionStatus string `json:"resolution_status"`
	Quantity         int    `json:"quantity"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

type historyListResponse struct {
	Items         []historyEntryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type historyEntryPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	UpdatedBy string `json:"updated_by"`
	CreatedAt string `json:"created_at"`
}

type deletionResultPayload struct {
	Deleted           bool `json:"deleted"`
	WasAlreadyDeleted bool `json:"was_already_deleted,omitempty"`
	HistoryDeleted    int  `json:"history_deleted,omitempty"`
	ResponsesDeleted  int  `json:"responses_deleted,omitempty"`
	MediaDeleted      int  `json:"media_deleted,omitempty"`
	InvoiceDeleted    bool `json:"invoice_deleted,omitempty"`
}

func buildRequestPayload(request services.Request) requestPayload {
	payload := requestPayload{
		ID:               request.ID,
		CustomerID:       request.CustomerID,
		ProductID:        request.ProductID,
		Status:           string(request.Status),
		ResolutionStatus: string(request.ResolutionStatus),
		Quantity:         request.Quantity,
		Notes:            request.Notes,
		CreatedAt:        formatTime(request.CreatedAt),
		UpdatedAt:        formatTime(request.UpdatedAt),
	}
	if request.InvoiceID != nil {
		payload.InvoiceID = strings.TrimSpace(*request.InvoiceID)
	}
	return payload
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func ownsRequest(identity *auth.Identity, request services.Request) bool {
	return strings.EqualFold(strings.TrimSpace(request.CustomerID), strings.TrimSpace(identity.UID))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var partial *services.PartialFailureError
	switch {
	case errors.As(err, &partial):
		httpx.WriteError(ctx, w, httpx.NewError("partial_failure", partial.Error(), http.StatusInternalServerError))
	case errors.Is(err, services.ErrRequestInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRequestNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRequestInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("request_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRequestConflict):
		httpx.WriteError(ctx, w, httpx.NewError("request_conflict", "another operation is in progress for this request", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("request_error", "failed to process request", http.StatusInternalServerError))
	}
}

func writeDeletionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDeletionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDeletionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductBlockedByRequests):
		httpx.WriteError(ctx, w, httpx.NewError("product_blocked", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("deletion_error", "failed to process deletion", http.StatusInternalServerError))
	}
}
