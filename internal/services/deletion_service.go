package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/repositories"
)

var (
	// ErrDeletionInvalidInput signals the caller provided invalid data.
	ErrDeletionInvalidInput = errors.New("deletion: invalid input")
	// ErrDeletionNotFound indicates the target entity could not be located.
	ErrDeletionNotFound = errors.New("deletion: not found")
	// ErrProductBlockedByRequests indicates a product still has requests
	// referencing it. Product deletion fails closed on this condition.
	ErrProductBlockedByRequests = errors.New("deletion: product blocked by requests")
)

const (
	denyReasonProcessing       = "An admin operation is currently in progress for this request"
	denyReasonNeedsResolution  = "Request must be resolved as product-unavailable before it can be deleted"
	denyReasonAlreadyResolved  = "Resolved requests cannot be deleted"
	denyReasonNotOwner         = "You can only delete your own requests"
	denyReasonNotPending       = "Only pending requests can be deleted"
	denyReasonInvoicePaid      = "Paid requests cannot be deleted"
)

// DeletionServiceDeps bundles collaborators required to construct the deletion service.
type DeletionServiceDeps struct {
	Requests          repositories.RequestRepository
	History           repositories.StatusHistoryRepository
	SupplierResponses repositories.SupplierResponseRepository
	Invoices          repositories.InvoiceRepository
	Products          repositories.ProductRepository
	ProductMedia      repositories.ProductMediaRepository
	Objects           ObjectStore
	UnitOfWork        repositories.UnitOfWork
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type deletionService struct {
	requests          repositories.RequestRepository
	history           repositories.StatusHistoryRepository
	supplierResponses repositories.SupplierResponseRepository
	invoices          repositories.InvoiceRepository
	products          repositories.ProductRepository
	productMedia      repositories.ProductMediaRepository
	objects           ObjectStore
	unitOfWork        repositories.UnitOfWork
	logger            func(context.Context, string, map[string]any)
}

var _ DeletionService = (*deletionService)(nil)

// NewDeletionService wires dependencies into a concrete DeletionService implementation.
func NewDeletionService(deps DeletionServiceDeps) (DeletionService, error) {
	if deps.Requests == nil {
		return nil, errors.New("deletion service: request repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("deletion service: history repository is required")
	}
	if deps.SupplierResponses == nil {
		return nil, errors.New("deletion service: supplier response repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("deletion service: invoice repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("deletion service: product repository is required")
	}
	if deps.ProductMedia == nil {
		return nil, errors.New("deletion service: product media repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &deletionService{
		requests:          deps.Requests,
		history:           deps.History,
		supplierResponses: deps.SupplierResponses,
		invoices:          deps.Invoices,
		products:          deps.Products,
		productMedia:      deps.ProductMedia,
		objects:           deps.Objects,
		unitOfWork:        unit,
		logger:            logger,
	}, nil
}

// CheckDeletionSafety runs the admin-side gate. A request with an in-flight
// processing claim is never deletable; a pending request without a resolution
// record always is; anything else requires the resolution track to sit at
// notified, meaning the customer has been told and has not yet acknowledged.
func (s *deletionService) CheckDeletionSafety(ctx context.Context, requestID string) (DeletionDecision, error) {
	request, err := s.findRequest(ctx, requestID)
	if err != nil {
		return DeletionDecision{}, err
	}

	if request.AdminProcessing {
		return deny(denyReasonProcessing), nil
	}
	if request.Status == domain.RequestStatusPending && !request.HasResolutionRecord() {
		return allow(), nil
	}
	switch request.ResolutionStatus {
	case domain.ResolutionStatusNotified:
		return allow(), nil
	case domain.ResolutionStatusResolved:
		return deny(denyReasonAlreadyResolved), nil
	default:
		return deny(denyReasonNeedsResolution), nil
	}
}

// IsDeletionAllowedForOwner runs the customer-side gate: the caller must own
// the request, the request must still be pending, and any attached invoice
// must not have been paid.
func (s *deletionService) IsDeletionAllowedForOwner(ctx context.Context, requestID string, actingUserID string) (DeletionDecision, error) {
	actingUserID = strings.TrimSpace(actingUserID)
	if actingUserID == "" {
		return DeletionDecision{}, fmt.Errorf("%w: acting user id is required", ErrDeletionInvalidInput)
	}

	request, err := s.findRequest(ctx, requestID)
	if err != nil {
		return DeletionDecision{}, err
	}

	if request.CustomerID != actingUserID {
		return deny(denyReasonNotOwner), nil
	}
	if request.Status != domain.RequestStatusPending {
		return deny(denyReasonNotPending), nil
	}

	if request.InvoiceID != nil {
		invoice, err := s.invoices.FindByID(ctx, *request.InvoiceID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return DeletionDecision{}, s.mapRepositoryError(err)
			}
		} else if invoice.Status == domain.InvoiceStatusPaid {
			return deny(denyReasonInvoicePaid), nil
		}
	}

	return allow(), nil
}

// VerifyRequestCount reports whether a product is free of requests and
// therefore eligible for deletion.
func (s *deletionService) VerifyRequestCount(ctx context.Context, productID string) (bool, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, fmt.Errorf("%w: product id is required", ErrDeletionInvalidInput)
	}

	count, err := s.requests.CountByProduct(ctx, productID)
	if err != nil {
		return false, s.mapRepositoryError(err)
	}
	return count == 0, nil
}

// DeleteRequestCascade removes a request and every row that references it:
// status history, supplier responses, and the attached invoice. A request that
// disappeared between the gate check and the cascade is reported as already
// deleted rather than as an error.
func (s *deletionService) DeleteRequestCascade(ctx context.Context, requestID string) (DeletionResult, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return DeletionResult{}, fmt.Errorf("%w: request id is required", ErrDeletionInvalidInput)
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return DeletionResult{WasAlreadyDeleted: true}, nil
		}
		return DeletionResult{}, s.mapRepositoryError(err)
	}

	var result DeletionResult
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		historyDeleted, err := s.history.DeleteByRequest(txCtx, requestID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		result.HistoryDeleted = historyDeleted

		responsesDeleted, err := s.supplierResponses.DeleteByRequest(txCtx, requestID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		result.ResponsesDeleted = responsesDeleted

		if request.InvoiceID != nil {
			if err := s.invoices.Delete(txCtx, *request.InvoiceID); err != nil {
				var repoErr repositories.RepositoryError
				if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
					return s.mapRepositoryError(err)
				}
			} else {
				result.InvoiceDeleted = true
			}
		}

		if err := s.requests.Delete(txCtx, requestID); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				result.WasAlreadyDeleted = true
				return nil
			}
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return DeletionResult{}, err
	}

	s.logger(ctx, "request.deleted", map[string]any{
		"request":          requestID,
		"historyDeleted":   result.HistoryDeleted,
		"responsesDeleted": result.ResponsesDeleted,
		"invoiceDeleted":   result.InvoiceDeleted,
		"alreadyDeleted":   result.WasAlreadyDeleted,
	})
	return result, nil
}

// DeleteProductCascade removes a product together with its media rows and
// backing objects. The cascade fails closed: any request still referencing
// the product blocks the deletion entirely.
func (s *deletionService) DeleteProductCascade(ctx context.Context, productID string) (DeletionResult, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return DeletionResult{}, fmt.Errorf("%w: product id is required", ErrDeletionInvalidInput)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return DeletionResult{WasAlreadyDeleted: true}, nil
		}
		return DeletionResult{}, s.mapRepositoryError(err)
	}

	count, err := s.requests.CountByProduct(ctx, productID)
	if err != nil {
		return DeletionResult{}, s.mapRepositoryError(err)
	}
	if count > 0 {
		return DeletionResult{}, fmt.Errorf("%w: %d request(s) reference product %s", ErrProductBlockedByRequests, count, productID)
	}

	media, err := s.productMedia.ListByProduct(ctx, productID)
	if err != nil {
		return DeletionResult{}, s.mapRepositoryError(err)
	}
	for _, item := range media {
		if s.objects == nil {
			break
		}
		if err := s.objects.Delete(ctx, item.ObjectRef); err != nil {
			// Orphaned objects are recoverable; orphaned rows are not, so the
			// row deletion still proceeds.
			s.logger(ctx, "product.media.object.delete.failed", map[string]any{
				"product": productID,
				"object":  item.ObjectRef,
				"error":   err.Error(),
			})
		}
	}

	var result DeletionResult
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		mediaDeleted, err := s.productMedia.DeleteByProduct(txCtx, productID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		result.MediaDeleted = mediaDeleted

		if err := s.products.Delete(txCtx, productID); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				result.WasAlreadyDeleted = true
				return nil
			}
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return DeletionResult{}, err
	}

	s.logger(ctx, "product.deleted", map[string]any{
		"product":        productID,
		"mediaDeleted":   result.MediaDeleted,
		"alreadyDeleted": result.WasAlreadyDeleted,
	})
	return result, nil
}

func (s *deletionService) findRequest(ctx context.Context, requestID string) (Request, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrDeletionInvalidInput)
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *deletionService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDeletionNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("deletion: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *deletionService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func allow() DeletionDecision {
	return DeletionDecision{Allowed: true}
}

func deny(reason string) DeletionDecision {
	return DeletionDecision{Allowed: false, Reason: reason}
}
