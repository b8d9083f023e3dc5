package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sourcelane/api/internal/domain"
	pfirestore "github.com/sourcelane/api/internal/platform/firestore"
	"github.com/sourcelane/api/internal/repositories"
)

const invoicesCollection = "invoices"

type invoiceDocument struct {
	RequestID       string    `firestore:"requestId"`
	Status          string    `firestore:"status"`
	Amount          int64     `firestore:"amount"`
	Currency        string    `firestore:"currency"`
	PaymentIntentID *string   `firestore:"paymentIntentId,omitempty"`
	StatusUpdatedAt time.Time `firestore:"statusUpdatedAt"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

// InvoiceRepository implements repositories.InvoiceRepository backed by Firestore.
type InvoiceRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[invoiceDocument]
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	base := pfirestore.NewCollection[invoiceDocument](provider, invoicesCollection)
	return &InvoiceRepository{provider: provider, base: base}, nil
}

// Insert creates the invoice document and fails when the id already exists.
func (r *InvoiceRepository) Insert(ctx context.Context, invoice domain.Invoice) error {
	ref, err := r.base.Doc(ctx, invoice.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeInvoice(invoice)); err != nil {
		return pfirestore.WrapError("invoices.insert", err)
	}
	return nil
}

// FindByID fetches a single invoice.
func (r *InvoiceRepository) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	doc, err := r.base.Get(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, pfirestore.WrapError("invoices.find", err)
	}
	return decodeInvoice(doc.ID, doc.Data), nil
}

// FindByRequest fetches the invoice attached to a request. Requests carry at
// most one invoice.
func (r *InvoiceRepository) FindByRequest(ctx context.Context, requestID string) (domain.Invoice, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.Invoice{}, errors.New("invoice repository: request id is required")
	}

	iter := coll.Where("requestId", "==", requestID).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Invoice{}, pfirestore.WrapError("invoices.findByRequest",
			status.Errorf(codes.NotFound, "no invoice for request %s", requestID))
	}
	if err != nil {
		return domain.Invoice{}, pfirestore.WrapError("invoices.findByRequest", err)
	}

	var doc invoiceDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode invoice %s: %w", snap.Ref.ID, err)
	}
	return decodeInvoice(snap.Ref.ID, doc), nil
}

// UpdateStatusUnlessPaid writes the status inside a transaction and reports
// applied=false without writing when the invoice is already paid. The re-check
// and the write share the transaction, so a payment landing in between cannot
// be overwritten.
func (r *InvoiceRepository) UpdateStatusUnlessPaid(ctx context.Context, invoiceID string, newStatus domain.InvoiceStatus, at time.Time) (bool, error) {
	ref, err := r.base.Doc(ctx, invoiceID)
	if err != nil {
		return false, err
	}

	applied := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc invoiceDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode invoice %s: %w", snap.Ref.ID, err)
		}
		if domain.InvoiceStatus(doc.Status) == domain.InvoiceStatusPaid {
			applied = false
			return nil
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(newStatus)},
			{Path: "statusUpdatedAt", Value: at.UTC()},
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("invoices.updateUnlessPaid", err)
	}
	return applied, nil
}

// UpdateStatusFromPayment writes the payment-derived status unconditionally.
func (r *InvoiceRepository) UpdateStatusFromPayment(ctx context.Context, invoiceID string, newStatus domain.InvoiceStatus, paymentIntentID *string, at time.Time) (domain.Invoice, error) {
	ref, err := r.base.Doc(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	var updated domain.Invoice
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc invoiceDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode invoice %s: %w", snap.Ref.ID, err)
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(newStatus)},
			{Path: "statusUpdatedAt", Value: at.UTC()},
		}
		if paymentIntentID != nil {
			updates = append(updates, firestore.Update{Path: "paymentIntentId", Value: *paymentIntentID})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		doc.Status = string(newStatus)
		doc.StatusUpdatedAt = at.UTC()
		if paymentIntentID != nil {
			doc.PaymentIntentID = paymentIntentID
		}
		updated = decodeInvoice(snap.Ref.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Invoice{}, pfirestore.WrapError("invoices.updateFromPayment", err)
	}
	return updated, nil
}

// Delete removes the invoice document. Deleting a missing document reports not found.
func (r *InvoiceRepository) Delete(ctx context.Context, invoiceID string) error {
	ref, err := r.base.Doc(ctx, invoiceID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("invoices.delete", err)
	}
	return nil
}

func (r *InvoiceRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("invoice repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(invoicesCollection), nil
}

func encodeInvoice(invoice domain.Invoice) invoiceDocument {
	return invoiceDocument{
		RequestID:       invoice.RequestID,
		Status:          string(invoice.Status),
		Amount:          invoice.Amount,
		Currency:        invoice.Currency,
		PaymentIntentID: invoice.PaymentIntentID,
		StatusUpdatedAt: invoice.StatusUpdatedAt.UTC(),
		CreatedAt:       invoice.CreatedAt.UTC(),
	}
}

func decodeInvoice(id string, doc invoiceDocument) domain.Invoice {
	return domain.Invoice{
		ID:              id,
		RequestID:       doc.RequestID,
		Status:          domain.InvoiceStatus(doc.Status),
		Amount:          doc.Amount,
		Currency:        doc.Currency,
		PaymentIntentID: doc.PaymentIntentID,
		StatusUpdatedAt: doc.StatusUpdatedAt,
		CreatedAt:       doc.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.InvoiceRepository = (*InvoiceRepository)(nil)
