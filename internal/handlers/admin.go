package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/platform/auth"
	"github.com/sourcelane/api/internal/platform/httpx"
	"github.com/sourcelane/api/internal/services"
)

type transitionPayload struct {
	Status   string         `json:"status"`
	Notes    string         `json:"notes"`
	Metadata map[string]any `json:"metadata"`
}

type resolutionPayload struct {
	ResolutionStatus string `json:"resolution_status"`
	Notes            string `json:"notes"`
}

// AdminHandlers exposes the admin request-management and deletion endpoints.
type AdminHandlers struct {
	authn    *auth.Authenticator
	requests services.RequestService
	deletion services.DeletionService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, requests services.RequestService, deletion services.DeletionService) *AdminHandlers {
	return &AdminHandlers{
		authn:    authn,
		requests: requests,
		deletion: deletion,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Post("/requests/{requestID}/transition", h.transitionRequest)
	r.Post("/requests/{requestID}/resolve", h.resolveRequest)
	r.Get("/requests/{requestID}/deletion-safety", h.deletionSafety)
	r.Delete("/requests/{requestID}", h.deleteRequest)
	r.Delete("/products/{productID}", h.deleteProduct)
}

func (h *AdminHandlers) transitionRequest(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var payload transitionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	request, err := h.requests.Transition(ctx, services.TransitionCommand{
		RequestID: requestID,
		NewStatus: domain.RequestStatus(strings.TrimSpace(payload.Status)),
		ActorID:   strings.TrimSpace(identity.UID),
		Notes:     payload.Notes,
		Metadata:  payload.Metadata,
	})
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestResponse{Request: buildRequestPayload(request)})
}

func (h *AdminHandlers) resolveRequest(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var payload resolutionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	request, err := h.requests.UpdateResolution(ctx, services.ResolutionCommand{
		RequestID: requestID,
		NewStatus: domain.ResolutionStatus(strings.TrimSpace(payload.ResolutionStatus)),
		ActorID:   strings.TrimSpace(identity.UID),
		Notes:     payload.Notes,
	})
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestResponse{Request: buildRequestPayload(request)})
}

func (h *AdminHandlers) deletionSafety(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
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

	decision, err := h.deletion.CheckDeletionSafety(ctx, requestID)
	if err != nil {
		writeDeletionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deletionDecisionPayload{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
	})
}

func (h *AdminHandlers) deleteRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
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

	decision, err := h.deletion.CheckDeletionSafety(ctx, requestID)
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

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	if h.deletion == nil {
		httpx.WriteError(ctx, w, httpx.NewError("deletion_service_unavailable", "deletion service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	result, err := h.deletion.DeleteProductCascade(ctx, productID)
	if err != nil {
		writeDeletionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, deletionResultPayload{
		Deleted:           !result.WasAlreadyDeleted,
		WasAlreadyDeleted: result.WasAlreadyDeleted,
		MediaDeleted:      result.MediaDeleted,
	})
}

type deletionDecisionPayload struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
