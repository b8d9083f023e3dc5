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

const productMediaCollectionPattern = "products/%s/media"

type productMediaDocument struct {
	ObjectRef  string    `firestore:"objectRef"`
	Kind       string    `firestore:"kind"`
	SortOrder  int       `firestore:"sortOrder"`
	UploadedAt time.Time `firestore:"uploadedAt"`
}

// ProductMediaRepository implements repositories.ProductMediaRepository as a
// per-product subcollection.
type ProductMediaRepository struct {
	provider *pfirestore.Provider
}

// NewProductMediaRepository constructs a Firestore-backed product media repository.
func NewProductMediaRepository(provider *pfirestore.Provider) (*ProductMediaRepository, error) {
	if provider == nil {
		return nil, errors.New("product media repository requires firestore provider")
	}
	return &ProductMediaRepository{provider: provider}, nil
}

// ListByProduct returns media rows in display order.
func (r *ProductMediaRepository) ListByProduct(ctx context.Context, productID string) ([]domain.ProductMedia, error) {
	coll, err := r.collection(ctx, productID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("sortOrder", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.ProductMedia
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("productMedia.list", err)
		}
		var doc productMediaDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product media %s: %w", snap.Ref.ID, err)
		}
		items = append(items, domain.ProductMedia{
			ID:         snap.Ref.ID,
			ProductID:  productID,
			ObjectRef:  doc.ObjectRef,
			Kind:       doc.Kind,
			SortOrder:  doc.SortOrder,
			UploadedAt: doc.UploadedAt,
		})
	}
	return items, nil
}

// DeleteByProduct removes every media row for the product and returns the count.
func (r *ProductMediaRepository) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	coll, err := r.collection(ctx, productID)
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
			return deleted, pfirestore.WrapError("productMedia.deleteByProduct", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return deleted, pfirestore.WrapError("productMedia.deleteByProduct", err)
		}
		deleted++
	}
	return deleted, nil
}

func (r *ProductMediaRepository) collection(ctx context.Context, productID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product media repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return nil, errors.New("product media repository: product id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(productMediaCollectionPattern, id)), nil
}

// Ensure interface compliance.
var _ repositories.ProductMediaRepository = (*ProductMediaRepository)(nil)
