package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sourcelane/api/internal/payments"
	"github.com/sourcelane/api/internal/platform/httpx"
	"github.com/sourcelane/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives payment-provider callbacks. Authentication is the
// provider signature, not a Firebase identity.
type WebhookHandlers struct {
	decoder  *payments.WebhookDecoder
	invoices services.InvoiceSyncService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(decoder *payments.WebhookDecoder, invoices services.InvoiceSyncService) *WebhookHandlers {
	return &WebhookHandlers{
		decoder:  decoder,
		invoices: invoices,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.decoder == nil || h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read webhook payload", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.decoder.Decode(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrUnsupportedEvent):
			// Unhandled event types are acknowledged so the provider stops retrying.
			writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Ignored: true})
		case errors.Is(err, payments.ErrMissingInvoiceRef):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event is missing the invoice reference", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to decode webhook event", http.StatusBadRequest))
		}
		return
	}

	if err := h.invoices.SyncFromPaymentEvent(ctx, services.PaymentEventCommand{
		InvoiceID:       event.InvoiceID,
		Outcome:         event.Outcome,
		PaymentIntentID: event.PaymentIntentID,
		OccurredAt:      event.ReceivedAt,
	}); err != nil {
		switch {
		case errors.Is(err, services.ErrInvoiceNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
		case errors.Is(err, services.ErrInvoiceInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to apply payment event", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

type webhookAckResponse struct {
	Received bool `json:"received"`
	Ignored  bool `json:"ignored,omitempty"`
}
