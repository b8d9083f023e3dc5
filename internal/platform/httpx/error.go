package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sourcelane/api/internal/platform/requestctx"
)

// Error is the JSON error envelope returned by the API. Handlers build one
// with NewError and hand it to WriteError; request and trace identifiers are
// filled in from the context at write time.
type Error struct {
	Code    string
	Message string
	Status  int
}

type errorEnvelope struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an Error, clamping code and message to response-safe lengths.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WriteError serialises the error envelope onto the response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	envelope := errorEnvelope{
		Code:      err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: sanitize(middleware.GetReqID(ctx), 80),
		TraceID:   sanitize(requestctx.TraceID(ctx), 64),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

// sanitize strips newlines and truncates so header-derived values cannot
// smuggle log or response injection.
func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	replacer := strings.NewReplacer("\n", " ", "\r", " ")
	value = strings.TrimSpace(replacer.Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
