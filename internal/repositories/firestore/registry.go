package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/sourcelane/api/internal/platform/firestore"
	"github.com/sourcelane/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	requests          *RequestRepository
	invoices          *InvoiceRepository
	statusHistory     *StatusHistoryRepository
	notifications     *NotificationRepository
	products          *ProductRepository
	productMedia      *ProductMediaRepository
	supplierResponses *SupplierResponseRepository
	health            repositories.HealthRepository
}

// NewRegistry constructs every Firestore-backed repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	requests, err := NewRequestRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build request repository: %w", err)
	}
	invoices, err := NewInvoiceRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build invoice repository: %w", err)
	}
	statusHistory, err := NewStatusHistoryRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build status history repository: %w", err)
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build notification repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	productMedia, err := NewProductMediaRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product media repository: %w", err)
	}
	supplierResponses, err := NewSupplierResponseRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build supplier response repository: %w", err)
	}

	health, err := repositories.NewProbeHealthRepository([]repositories.HealthProbe{
		{
			Name:    "firestore",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:          provider,
		requests:          requests,
		invoices:          invoices,
		statusHistory:     statusHistory,
		notifications:     notifications,
		products:          products,
		productMedia:      productMedia,
		supplierResponses: supplierResponses,
		health:            health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Requests returns the request repository.
func (r *Registry) Requests() repositories.RequestRepository { return r.requests }

// Invoices returns the invoice repository.
func (r *Registry) Invoices() repositories.InvoiceRepository { return r.invoices }

// StatusHistory returns the status history repository.
func (r *Registry) StatusHistory() repositories.StatusHistoryRepository { return r.statusHistory }

// Notifications returns the notification repository.
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// ProductMedia returns the product media repository.
func (r *Registry) ProductMedia() repositories.ProductMediaRepository { return r.productMedia }

// SupplierResponses returns the supplier response repository.
func (r *Registry) SupplierResponses() repositories.SupplierResponseRepository {
	return r.supplierResponses
}

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn as a sequential group. Firestore writes commit
// individually; operations needing read-modify-write atomicity run their own
// transaction inside the repository instead.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return fn(ctx)
}

// WithHealth overrides the health repository, letting callers add probes for
// dependencies beyond Firestore.
func (r *Registry) WithHealth(health repositories.HealthRepository) *Registry {
	if health != nil {
		r.health = health
	}
	return r
}

var _ repositories.Registry = (*Registry)(nil)
