package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/repositories"
)

const (
	requestIDPrefix = "req_"
	historyIDPrefix = "shy_"

	stepStatusWrite   = "status_write"
	stepHistoryAppend = "history_append"
	stepInvoiceSync   = "invoice_sync"

	historyNoteCreated = "Request created"
)

var (
	// ErrRequestInvalidInput signals the caller provided invalid data.
	ErrRequestInvalidInput = errors.New("request: invalid input")
	// ErrRequestNotFound indicates the request could not be located.
	ErrRequestNotFound = errors.New("request: not found")
	// ErrRequestInvalidState indicates a transition not permitted by the state machine.
	ErrRequestInvalidState = errors.New("request: invalid status transition")
	// ErrRequestConflict indicates a concurrent coordinator already holds the
	// processing claim, or another write conflicted.
	ErrRequestConflict = errors.New("request: conflict")
)

// Primary track: pending -> {approved, rejected}; approved -> {fulfilled, rejected};
// fulfilled and rejected are terminal.
var requestStateTransitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.RequestStatusPending:  {domain.RequestStatusApproved, domain.RequestStatusRejected},
	domain.RequestStatusApproved: {domain.RequestStatusFulfilled, domain.RequestStatusRejected},
}

// Resolution track, orthogonal to the primary track: none -> notified -> resolved.
var resolutionTransitions = map[domain.ResolutionStatus]domain.ResolutionStatus{
	domain.ResolutionStatusNone:     domain.ResolutionStatusNotified,
	domain.ResolutionStatusNotified: domain.ResolutionStatusResolved,
}

// PartialFailureError reports a coordinated operation that applied some of its
// sub-steps before failing. The processing claim is always released regardless.
type PartialFailureError struct {
	RequestID string
	Completed []string
	Err       error
}

// Error implements the error interface.
func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("request %s: operation partially applied (completed: %s): %v",
		e.RequestID, strings.Join(e.Completed, ", "), e.Err)
}

// Unwrap exposes the underlying failure.
func (e *PartialFailureError) Unwrap() error { return e.Err }

// RequestServiceDeps bundles collaborators required to construct the request service.
type RequestServiceDeps struct {
	Requests      repositories.RequestRepository
	History       repositories.StatusHistoryRepository
	InvoiceSync   InvoiceSyncService
	Notifications NotificationService
	Clock         func() time.Time
	IDGenerator   func() string
	ClaimTTL      time.Duration
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type requestService struct {
	requests      repositories.RequestRepository
	history       repositories.StatusHistoryRepository
	invoiceSync   InvoiceSyncService
	notifications NotificationService
	clock         func() time.Time
	newID         func() string
	claimTTL      time.Duration
	logger        func(context.Context, string, map[string]any)
}

var _ RequestService = (*requestService)(nil)

// NewRequestService wires dependencies into a concrete RequestService implementation.
func NewRequestService(deps RequestServiceDeps) (RequestService, error) {
	if deps.Requests == nil {
		return nil, errors.New("request service: request repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("request service: history repository is required")
	}
	if deps.InvoiceSync == nil {
		return nil, errors.New("request service: invoice sync service is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("request service: notification service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	claimTTL := deps.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &requestService{
		requests:      deps.Requests,
		history:       deps.History,
		invoiceSync:   deps.InvoiceSync,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		claimTTL: claimTTL,
		logger:   logger,
	}, nil
}

func (s *requestService) CreateRequest(ctx context.Context, cmd CreateRequestCommand) (Request, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Request{}, fmt.Errorf("%w: customer id is required", ErrRequestInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Request{}, fmt.Errorf("%w: product id is required", ErrRequestInvalidInput)
	}
	quantity := cmd.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	now := s.now()
	request := Request{
		ID:               s.nextRequestID(),
		CustomerID:       customerID,
		ProductID:        productID,
		Status:           domain.RequestStatusPending,
		ResolutionStatus: domain.ResolutionStatusNone,
		Quantity:         quantity,
		Notes:            strings.TrimSpace(cmd.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	entry := StatusHistoryEntry{
		ID:        s.nextHistoryID(),
		RequestID: request.ID,
		Status:    request.Status,
		Notes:     historyNoteCreated,
		UpdatedBy: customerID,
		CreatedAt: now,
	}

	if err := s.requests.Insert(ctx, request); err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	// The request row committed; a history failure past this point is partial,
	// not a rollback.
	if err := s.history.Append(ctx, entry); err != nil {
		return request, &PartialFailureError{RequestID: request.ID, Completed: []string{stepStatusWrite}, Err: s.mapRepositoryError(err)}
	}

	s.logger(ctx, "request.created", map[string]any{
		"request":  request.ID,
		"customer": customerID,
		"product":  productID,
	})
	return request, nil
}

func (s *requestService) GetRequest(ctx context.Context, requestID string) (Request, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *requestService) ListRequests(ctx context.Context, customerID string, pager Pagination) (domain.CursorPage[Request], error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[Request]{}, fmt.Errorf("%w: customer id is required", ErrRequestInvalidInput)
	}
	page, err := s.requests.ListByCustomer(ctx, customerID, pager)
	if err != nil {
		return domain.CursorPage[Request]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *requestService) ListHistory(ctx context.Context, requestID string, pager Pagination) (domain.CursorPage[StatusHistoryEntry], error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.CursorPage[StatusHistoryEntry]{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}
	if _, err := s.requests.FindByID(ctx, requestID); err != nil {
		return domain.CursorPage[StatusHistoryEntry]{}, s.mapRepositoryError(err)
	}
	page, err := s.history.ListByRequest(ctx, requestID, pager)
	if err != nil {
		return domain.CursorPage[StatusHistoryEntry]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Transition validates and applies a request status transition under the
// processing claim. The claim is taken with a single conditional write so two
// coordinator instances cannot both believe they hold it, and it is released
// on every path once taken.
func (s *requestService) Transition(ctx context.Context, cmd TransitionCommand) (Request, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Request{}, fmt.Errorf("%w: actor id is required", ErrRequestInvalidInput)
	}
	target := cmd.NewStatus
	if !isValidRequestStatus(target) {
		return Request{}, fmt.Errorf("%w: unknown status %q", ErrRequestInvalidInput, target)
	}

	now := s.now()
	claimed, err := s.requests.ClaimProcessing(ctx, requestID, now)
	if err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	// Once the claim is set the operation runs to completion; the release must
	// happen even when the caller's context is already cancelled.
	releaseCtx := context.WithoutCancel(ctx)
	defer s.releaseClaim(releaseCtx, requestID)

	current := claimed.Status
	if current == target {
		return Request{}, fmt.Errorf("%w: request already %s", ErrRequestInvalidState, target)
	}
	if !canTransitionRequest(current, target) {
		return Request{}, fmt.Errorf("%w: %s -> %s", ErrRequestInvalidState, current, target)
	}

	notes := strings.TrimSpace(cmd.Notes)
	if notes == "" {
		notes = fmt.Sprintf("Status updated to %s", target)
	}

	request := claimed
	request.Status = target
	request.UpdatedAt = now

	entry := StatusHistoryEntry{
		ID:        s.nextHistoryID(),
		RequestID: requestID,
		Status:    target,
		Notes:     notes,
		UpdatedBy: actor,
		CreatedAt: now,
	}

	// Firestore writes commit individually, so every write past the first is a
	// tracked step. A failure after the status committed reports which steps
	// stuck; the reconciliation sweep picks up the rest.
	if err := s.requests.Update(ctx, request); err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	completed := []string{stepStatusWrite}

	if err := s.history.Append(ctx, entry); err != nil {
		return request, &PartialFailureError{RequestID: requestID, Completed: completed, Err: s.mapRepositoryError(err)}
	}
	completed = append(completed, stepHistoryAppend)

	syncResult, err := s.invoiceSync.SyncFromRequestStatus(ctx, requestID, target)
	if err != nil {
		return request, &PartialFailureError{RequestID: requestID, Completed: completed, Err: err}
	}
	completed = append(completed, stepInvoiceSync)

	metadata := cloneMap(cmd.Metadata)
	metadata = ensureMap(metadata)
	metadata["previousStatus"] = string(current)

	if _, err := s.notifications.CreateNotification(ctx, CreateNotificationCommand{
		UserID:        claimed.CustomerID,
		Type:          domain.NotificationTypeStatusChange,
		Content:       fmt.Sprintf("Your request status changed to %s", target),
		ReferenceID:   requestID,
		ReferenceType: "request",
		Metadata:      metadata,
	}); err != nil {
		return request, &PartialFailureError{RequestID: requestID, Completed: completed, Err: err}
	}

	s.logger(ctx, "request.status.changed", map[string]any{
		"request":        requestID,
		"previousStatus": string(current),
		"currentStatus":  string(target),
		"actor":          actor,
		"invoiceSynced":  syncResult.Applied,
	})

	request.AdminProcessing = false
	request.ProcessingClaimedAt = nil
	return request, nil
}

// UpdateResolution advances the resolution track without touching the primary
// status. The processing claim still serialises it against other admin actions.
func (s *requestService) UpdateResolution(ctx context.Context, cmd ResolutionCommand) (Request, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Request{}, fmt.Errorf("%w: actor id is required", ErrRequestInvalidInput)
	}
	target := cmd.NewStatus
	if target != domain.ResolutionStatusNotified && target != domain.ResolutionStatusResolved {
		return Request{}, fmt.Errorf("%w: unknown resolution status %q", ErrRequestInvalidInput, target)
	}

	now := s.now()
	claimed, err := s.requests.ClaimProcessing(ctx, requestID, now)
	if err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	releaseCtx := context.WithoutCancel(ctx)
	defer s.releaseClaim(releaseCtx, requestID)

	current := claimed.ResolutionStatus
	if current == "" {
		current = domain.ResolutionStatusNone
	}
	if next, ok := resolutionTransitions[current]; !ok || next != target {
		return Request{}, fmt.Errorf("%w: resolution %s -> %s", ErrRequestInvalidState, current, target)
	}

	request := claimed
	request.ResolutionStatus = target
	request.UpdatedAt = now

	if err := s.requests.Update(ctx, request); err != nil {
		return Request{}, s.mapRepositoryError(err)
	}

	if target == domain.ResolutionStatusNotified {
		if _, err := s.notifications.CreateNotification(ctx, CreateNotificationCommand{
			UserID:        claimed.CustomerID,
			Type:          domain.NotificationTypeProductUnavailable,
			Content:       "The product you requested is no longer available",
			ReferenceID:   requestID,
			ReferenceType: "request",
			Metadata: map[string]any{
				"notes": strings.TrimSpace(cmd.Notes),
			},
		}); err != nil {
			return request, &PartialFailureError{RequestID: requestID, Completed: []string{stepStatusWrite}, Err: err}
		}
	}

	s.logger(ctx, "request.resolution.changed", map[string]any{
		"request":            requestID,
		"previousResolution": string(current),
		"currentResolution":  string(target),
		"actor":              actor,
	})

	request.AdminProcessing = false
	request.ProcessingClaimedAt = nil
	return request, nil
}

// ReleaseStaleClaims clears processing claims older than the configured TTL.
// It is the reconciliation sweep for claims orphaned by a crashed coordinator.
func (s *requestService) ReleaseStaleClaims(ctx context.Context) (int, error) {
	before := s.now().Add(-s.claimTTL)
	released, err := s.requests.ReleaseStaleClaims(ctx, before)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	if released > 0 {
		s.logger(ctx, "request.claims.swept", map[string]any{
			"released": released,
			"before":   before.Format(time.RFC3339),
		})
	}
	return released, nil
}

func (s *requestService) releaseClaim(ctx context.Context, requestID string) {
	if err := s.requests.ReleaseProcessing(ctx, requestID); err != nil {
		// The stale-claim sweep will recover the row; the failure is still loud.
		s.logger(ctx, "request.claim.release.failed", map[string]any{
			"request": requestID,
			"error":   err.Error(),
		})
	}
}

func (s *requestService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrRequestNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrRequestConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("request: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *requestService) now() time.Time {
	return s.clock()
}

func (s *requestService) nextRequestID() string {
	return requestIDPrefix + s.newID()
}

func (s *requestService) nextHistoryID() string {
	return historyIDPrefix + s.newID()
}

func isValidRequestStatus(status domain.RequestStatus) bool {
	switch status {
	case domain.RequestStatusPending, domain.RequestStatusApproved,
		domain.RequestStatusRejected, domain.RequestStatusFulfilled:
		return true
	}
	return false
}

func canTransitionRequest(current, target domain.RequestStatus) bool {
	next, ok := requestStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func valuePtr[T any](v T) *T {
	return &v
}
