package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sourcelane/api/internal/platform/httpx"
	"github.com/sourcelane/api/internal/services"
)

// InternalHandlers exposes maintenance endpoints invoked by the scheduler, not
// by end users. The /internal group is expected to sit behind its own
// middleware stack.
type InternalHandlers struct {
	requests services.RequestService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(requests services.RequestService) *InternalHandlers {
	return &InternalHandlers{requests: requests}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/requests/sweep-claims", h.sweepClaims)
}

func (h *InternalHandlers) sweepClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	released, err := h.requests.ReleaseStaleClaims(ctx)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepClaimsResponse{Released: released})
}

type sweepClaimsResponse struct {
	Released int `json:"released"`
}
