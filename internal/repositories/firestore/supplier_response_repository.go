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

const supplierResponseCollectionPattern = "requests/%s/supplierResponses"

type supplierResponseDocument struct {
	SupplierID string         `firestore:"supplierId"`
	Payload    map[string]any `firestore:"payload,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

// SupplierResponseRepository implements repositories.SupplierResponseRepository
// as a per-request subcollection.
type SupplierResponseRepository struct {
	provider *pfirestore.Provider
}

// NewSupplierResponseRepository constructs a Firestore-backed supplier response repository.
func NewSupplierResponseRepository(provider *pfirestore.Provider) (*SupplierResponseRepository, error) {
	if provider == nil {
		return nil, errors.New("supplier response repository requires firestore provider")
	}
	return &SupplierResponseRepository{provider: provider}, nil
}

// Insert creates a supplier response document.
func (r *SupplierResponseRepository) Insert(ctx context.Context, response domain.SupplierResponse) error {
	coll, err := r.collection(ctx, response.RequestID)
	if err != nil {
		return err
	}
	responseID := strings.TrimSpace(response.ID)
	if responseID == "" {
		return errors.New("supplier response repository: response id is required")
	}

	doc := supplierResponseDocument{
		SupplierID: response.SupplierID,
		Payload:    response.Payload,
		CreatedAt:  response.CreatedAt.UTC(),
	}
	if _, err := coll.Doc(responseID).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("supplierResponses.insert", err)
	}
	return nil
}

// ListByRequest returns responses oldest first.
func (r *SupplierResponseRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.SupplierResponse, error) {
	coll, err := r.collection(ctx, requestID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.SupplierResponse
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("supplierResponses.list", err)
		}
		var doc supplierResponseDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode supplier response %s: %w", snap.Ref.ID, err)
		}
		items = append(items, domain.SupplierResponse{
			ID:         snap.Ref.ID,
			RequestID:  requestID,
			SupplierID: doc.SupplierID,
			Payload:    doc.Payload,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return items, nil
}

// DeleteByRequest removes every response for the request and returns the count.
func (r *SupplierResponseRepository) DeleteByRequest(ctx context.Context, requestID string) (int, error) {
	coll, err := r.collection(ctx, requestID)
	if err != nil {
		return 0, err
	}

	iter := coll.Documents(ctx)
	defer iter.Stop()

	deleted := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, pfirestore.WrapError("supplierResponses.deleteByRequest", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return deleted, pfirestore.WrapError("supplierResponses.deleteByRequest", err)
		}
		deleted++
	}
	return deleted, nil
}

func (r *SupplierResponseRepository) collection(ctx context.Context, requestID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("supplier response repository not initialised")
	}
	id := strings.TrimSpace(requestID)
	if id == "" {
		return nil, errors.New("supplier response repository: request id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(supplierResponseCollectionPattern, id)), nil
}

// Ensure interface compliance.
var _ repositories.SupplierResponseRepository = (*SupplierResponseRepository)(nil)
