package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/sourcelane/api/internal/domain"
)

// Sentinel errors surfaced by webhook decoding.
var (
	ErrInvalidSignature  = errors.New("payments: webhook signature verification failed")
	ErrUnsupportedEvent  = errors.New("payments: unsupported webhook event type")
	ErrMissingInvoiceRef = errors.New("payments: event metadata missing invoice reference")
)

// Metadata key carried on payment intents linking back to the invoice.
const invoiceMetadataKey = "invoiceId"

// OutcomeEvent is the normalised payment outcome extracted from a provider event.
// Only the outcome is consumed; provider-side state stays with the provider.
type OutcomeEvent struct {
	InvoiceID       string
	Outcome         domain.PaymentOutcome
	PaymentIntentID string
	EventID         string
	ReceivedAt      time.Time
}

type constructEventFunc func(payload []byte, header string, secret string) (stripe.Event, error)

// WebhookDecoderDeps configures a WebhookDecoder.
type WebhookDecoderDeps struct {
	SigningSecret string
	Clock         func() time.Time

	// ConstructEvent overrides signature verification, primarily for tests.
	ConstructEvent constructEventFunc
}

// WebhookDecoder verifies Stripe webhook signatures and normalises payment
// intent events into outcome events.
type WebhookDecoder struct {
	secret    string
	construct constructEventFunc
	clock     func() time.Time
}

// NewWebhookDecoder constructs a WebhookDecoder from its dependencies.
func NewWebhookDecoder(deps WebhookDecoderDeps) (*WebhookDecoder, error) {
	secret := strings.TrimSpace(deps.SigningSecret)
	if secret == "" && deps.ConstructEvent == nil {
		return nil, errors.New("payments: webhook signing secret is required")
	}

	construct := deps.ConstructEvent
	if construct == nil {
		construct = webhook.ConstructEvent
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &WebhookDecoder{
		secret:    secret,
		construct: construct,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Decode verifies the payload signature and extracts the payment outcome.
func (d *WebhookDecoder) Decode(payload []byte, signature string) (OutcomeEvent, error) {
	if d == nil {
		return OutcomeEvent{}, errors.New("payments: decoder is nil")
	}

	event, err := d.construct(payload, signature, d.secret)
	if err != nil {
		return OutcomeEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var outcome domain.PaymentOutcome
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = domain.PaymentOutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome = domain.PaymentOutcomeFailed
	default:
		return OutcomeEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return OutcomeEvent{}, fmt.Errorf("payments: decode payment intent: %w", err)
	}

	invoiceID := strings.TrimSpace(intent.Metadata[invoiceMetadataKey])
	if invoiceID == "" {
		return OutcomeEvent{}, fmt.Errorf("%w: event %s", ErrMissingInvoiceRef, event.ID)
	}

	return OutcomeEvent{
		InvoiceID:       invoiceID,
		Outcome:         outcome,
		PaymentIntentID: intent.ID,
		EventID:         event.ID,
		ReceivedAt:      d.clock(),
	}, nil
}
