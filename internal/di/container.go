package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcelane/api/internal/platform/config"
	"github.com/sourcelane/api/internal/repositories"
	"github.com/sourcelane/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Requests      services.RequestService
	InvoiceSync   services.InvoiceSyncService
	Notifications services.NotificationService
	Deletion      services.DeletionService
	System        services.SystemService
}

// Dependencies carries collaborators constructed outside the repository registry,
// such as the event publisher and the media object store.
type Dependencies struct {
	Publisher services.NotificationEventPublisher
	Objects   services.ObjectStore
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	if notificationsRepo := reg.Notifications(); notificationsRepo != nil {
		notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Notifications: notificationsRepo,
			Publisher:     deps.Publisher,
			Clock:         time.Now,
			Logger:        deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notificationSvc
	}

	requestsRepo := reg.Requests()
	invoicesRepo := reg.Invoices()

	if invoicesRepo == nil || requestsRepo == nil {
		return svc, nil
	}

	invoiceSyncSvc, err := services.NewInvoiceSyncService(services.InvoiceSyncServiceDeps{
		Invoices:      invoicesRepo,
		Requests:      requestsRepo,
		Notifications: svc.Notifications,
		Clock:         time.Now,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice sync service: %w", err)
	}
	svc.InvoiceSync = invoiceSyncSvc

	requestSvc, err := services.NewRequestService(services.RequestServiceDeps{
		Requests:      requestsRepo,
		History:       reg.StatusHistory(),
		InvoiceSync:   invoiceSyncSvc,
		Notifications: svc.Notifications,
		Clock:         time.Now,
		ClaimTTL:      cfg.Requests.ClaimTTL,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build request service: %w", err)
	}
	svc.Requests = requestSvc

	// Payment-driven fulfilment transitions loop back through the request
	// coordinator, so the trigger is bound after both services exist.
	invoiceSyncSvc.BindTransitionTrigger(requestSvc)

	deletionSvc, err := services.NewDeletionService(services.DeletionServiceDeps{
		Requests:          requestsRepo,
		History:           reg.StatusHistory(),
		SupplierResponses: reg.SupplierResponses(),
		Invoices:          invoicesRepo,
		Products:          reg.Products(),
		ProductMedia:      reg.ProductMedia(),
		Objects:           deps.Objects,
		UnitOfWork:        reg,
		Logger:            deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build deletion service: %w", err)
	}
	svc.Deletion = deletionSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: healthRepo,
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
