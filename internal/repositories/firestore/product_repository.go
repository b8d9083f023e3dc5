package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sourcelane/api/internal/domain"
	pfirestore "github.com/sourcelane/api/internal/platform/firestore"
	"github.com/sourcelane/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	SupplierID  string    `firestore:"supplierId"`
	Available   bool      `firestore:"available"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewCollection[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert creates the product document and fails when the id already exists.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	ref, err := r.base.Doc(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeProduct(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if err := r.base.Set(ctx, product.ID, encodeProduct(product)); err != nil {
		return pfirestore.WrapError("products.update", err)
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.find", err)
	}
	return domain.Product{
		ID:          doc.ID,
		Name:        doc.Data.Name,
		Description: doc.Data.Description,
		SupplierID:  doc.Data.SupplierID,
		Available:   doc.Data.Available,
		CreatedAt:   doc.Data.CreatedAt,
		UpdatedAt:   doc.Data.UpdatedAt,
	}, nil
}

// Delete removes the product document. Deleting a missing document reports not found.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	ref, err := r.base.Doc(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

func encodeProduct(product domain.Product) productDocument {
	return productDocument{
		Name:        product.Name,
		Description: product.Description,
		SupplierID:  product.SupplierID,
		Available:   product.Available,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

// Ensure interface compliance.
var _ repositories.ProductRepository = (*ProductRepository)(nil)
