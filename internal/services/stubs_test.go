package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/repositories"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = stubRepoError{}

func notFoundErr(msg string) error {
	return stubRepoError{msg: msg, notFound: true}
}

func conflictErr(msg string) error {
	return stubRepoError{msg: msg, conflict: true}
}

type stubRequestRepo struct {
	insertFn            func(ctx context.Context, request domain.Request) error
	updateFn            func(ctx context.Context, request domain.Request) error
	findFn              func(ctx context.Context, requestID string) (domain.Request, error)
	listFn              func(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Request], error)
	countByProductFn    func(ctx context.Context, productID string) (int, error)
	deleteFn            func(ctx context.Context, requestID string) error
	claimFn             func(ctx context.Context, requestID string, claimedAt time.Time) (domain.Request, error)
	releaseFn           func(ctx context.Context, requestID string) error
	releaseStaleFn      func(ctx context.Context, before time.Time) (int, error)
}

func (s *stubRequestRepo) Insert(ctx context.Context, request domain.Request) error {
	if s.insertFn == nil {
		return errors.New("insert not implemented")
	}
	return s.insertFn(ctx, request)
}

func (s *stubRequestRepo) Update(ctx context.Context, request domain.Request) error {
	if s.updateFn == nil {
		return errors.New("update not implemented")
	}
	return s.updateFn(ctx, request)
}

func (s *stubRequestRepo) FindByID(ctx context.Context, requestID string) (domain.Request, error) {
	if s.findFn == nil {
		return domain.Request{}, errors.New("find not implemented")
	}
	return s.findFn(ctx, requestID)
}

func (s *stubRequestRepo) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Request], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Request]{}, errors.New("list not implemented")
	}
	return s.listFn(ctx, customerID, pager)
}

func (s *stubRequestRepo) CountByProduct(ctx context.Context, productID string) (int, error) {
	if s.countByProductFn == nil {
		return 0, errors.New("count not implemented")
	}
	return s.countByProductFn(ctx, productID)
}

func (s *stubRequestRepo) Delete(ctx context.Context, requestID string) error {
	if s.deleteFn == nil {
		return errors.New("delete not implemented")
	}
	return s.deleteFn(ctx, requestID)
}

func (s *stubRequestRepo) ClaimProcessing(ctx context.Context, requestID string, claimedAt time.Time) (domain.Request, error) {
	if s.claimFn == nil {
		return domain.Request{}, errors.New("claim not implemented")
	}
	return s.claimFn(ctx, requestID, claimedAt)
}

func (s *stubRequestRepo) ReleaseProcessing(ctx context.Context, requestID string) error {
	if s.releaseFn == nil {
		return errors.New("release not implemented")
	}
	return s.releaseFn(ctx, requestID)
}

func (s *stubRequestRepo) ReleaseStaleClaims(ctx context.Context, before time.Time) (int, error) {
	if s.releaseStaleFn == nil {
		return 0, errors.New("release stale claims not implemented")
	}
	return s.releaseStaleFn(ctx, before)
}

type stubHistoryRepo struct {
	appendFn          func(ctx context.Context, entry domain.StatusHistoryEntry) error
	listFn            func(ctx context.Context, requestID string, pager domain.Pagination) (domain.CursorPage[domain.StatusHistoryEntry], error)
	deleteByRequestFn func(ctx context.Context, requestID string) (int, error)
}

func (s *stubHistoryRepo) Append(ctx context.Context, entry domain.StatusHistoryEntry) error {
	if s.appendFn == nil {
		return errors.New("append not implemented")
	}
	return s.appendFn(ctx, entry)
}

func (s *stubHistoryRepo) ListByRequest(ctx context.Context, requestID string, pager domain.Pagination) (domain.CursorPage[domain.StatusHistoryEntry], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.StatusHistoryEntry]{}, errors.New("list not implemented")
	}
	return s.listFn(ctx, requestID, pager)
}

func (s *stubHistoryRepo) DeleteByRequest(ctx context.Context, requestID string) (int, error) {
	if s.deleteByRequestFn == nil {
		return 0, errors.New("delete by request not implemented")
	}
	return s.deleteByRequestFn(ctx, requestID)
}

type stubInvoiceRepo struct {
	insertFn            func(ctx context.Context, invoice domain.Invoice) error
	findFn              func(ctx context.Context, invoiceID string) (domain.Invoice, error)
	findByRequestFn     func(ctx context.Context, requestID string) (domain.Invoice, error)
	updateUnlessPaidFn  func(ctx context.Context, invoiceID string, status domain.InvoiceStatus, at time.Time) (bool, error)
	updateFromPaymentFn func(ctx context.Context, invoiceID string, status domain.InvoiceStatus, paymentIntentID *string, at time.Time) (domain.Invoice, error)
	deleteFn            func(ctx context.Context, invoiceID string) error
}

func (s *stubInvoiceRepo) Insert(ctx context.Context, invoice domain.Invoice) error {
	if s.insertFn == nil {
		return errors.New("insert not implemented")
	}
	return s.insertFn(ctx, invoice)
}

func (s *stubInvoiceRepo) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	if s.findFn == nil {
		return domain.Invoice{}, errors.New("find not implemented")
	}
	return s.findFn(ctx, invoiceID)
}

func (s *stubInvoiceRepo) FindByRequest(ctx context.Context, requestID string) (domain.Invoice, error) {
	if s.findByRequestFn == nil {
		return domain.Invoice{}, errors.New("find by request not implemented")
	}
	return s.findByRequestFn(ctx, requestID)
}

func (s *stubInvoiceRepo) UpdateStatusUnlessPaid(ctx context.Context, invoiceID string, status domain.InvoiceStatus, at time.Time) (bool, error) {
	if s.updateUnlessPaidFn == nil {
		return false, errors.New("update unless paid not implemented")
	}
	return s.updateUnlessPaidFn(ctx, invoiceID, status, at)
}

func (s *stubInvoiceRepo) UpdateStatusFromPayment(ctx context.Context, invoiceID string, status domain.InvoiceStatus, paymentIntentID *string, at time.Time) (domain.Invoice, error) {
	if s.updateFromPaymentFn == nil {
		return domain.Invoice{}, errors.New("update from payment not implemented")
	}
	return s.updateFromPaymentFn(ctx, invoiceID, status, paymentIntentID, at)
}

func (s *stubInvoiceRepo) Delete(ctx context.Context, invoiceID string) error {
	if s.deleteFn == nil {
		return errors.New("delete not implemented")
	}
	return s.deleteFn(ctx, invoiceID)
}

type stubNotificationRepo struct {
	insertFn      func(ctx context.Context, notification domain.Notification) error
	findFn        func(ctx context.Context, notificationID string) (domain.Notification, error)
	listFn        func(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error)
	markReadFn    func(ctx context.Context, notificationID string, at time.Time) error
	markAllReadFn func(ctx context.Context, userID string, at time.Time) (int, error)
	countUnreadFn func(ctx context.Context, userID string) (int, error)
}

func (s *stubNotificationRepo) Insert(ctx context.Context, notification domain.Notification) error {
	if s.insertFn == nil {
		return errors.New("insert not implemented")
	}
	return s.insertFn(ctx, notification)
}

func (s *stubNotificationRepo) FindByID(ctx context.Context, notificationID string) (domain.Notification, error) {
	if s.findFn == nil {
		return domain.Notification{}, errors.New("find not implemented")
	}
	return s.findFn(ctx, notificationID)
}

func (s *stubNotificationRepo) ListByUser(ctx context.Context, userID string, filter repositories.NotificationListFilter) (domain.CursorPage[domain.Notification], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("list not implemented")
	}
	return s.listFn(ctx, userID, filter)
}

func (s *stubNotificationRepo) MarkRead(ctx context.Context, notificationID string, at time.Time) error {
	if s.markReadFn == nil {
		return errors.New("mark read not implemented")
	}
	return s.markReadFn(ctx, notificationID, at)
}

func (s *stubNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	if s.markAllReadFn == nil {
		return 0, errors.New("mark all read not implemented")
	}
	return s.markAllReadFn(ctx, userID, at)
}

func (s *stubNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	if s.countUnreadFn == nil {
		return 0, errors.New("count unread not implemented")
	}
	return s.countUnreadFn(ctx, userID)
}

type stubProductRepo struct {
	insertFn func(ctx context.Context, product domain.Product) error
	updateFn func(ctx context.Context, product domain.Product) error
	findFn   func(ctx context.Context, productID string) (domain.Product, error)
	deleteFn func(ctx context.Context, productID string) error
}

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn == nil {
		return errors.New("insert not implemented")
	}
	return s.insertFn(ctx, product)
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) error {
	if s.updateFn == nil {
		return errors.New("update not implemented")
	}
	return s.updateFn(ctx, product)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn == nil {
		return domain.Product{}, errors.New("find not implemented")
	}
	return s.findFn(ctx, productID)
}

func (s *stubProductRepo) Delete(ctx context.Context, productID string) error {
	if s.deleteFn == nil {
		return errors.New("delete not implemented")
	}
	return s.deleteFn(ctx, productID)
}

type stubProductMediaRepo struct {
	listFn            func(ctx context.Context, productID string) ([]domain.ProductMedia, error)
	deleteByProductFn func(ctx context.Context, productID string) (int, error)
}

func (s *stubProductMediaRepo) ListByProduct(ctx context.Context, productID string) ([]domain.ProductMedia, error) {
	if s.listFn == nil {
		return nil, errors.New("list not implemented")
	}
	return s.listFn(ctx, productID)
}

func (s *stubProductMediaRepo) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	if s.deleteByProductFn == nil {
		return 0, errors.New("delete by product not implemented")
	}
	return s.deleteByProductFn(ctx, productID)
}

type stubSupplierResponseRepo struct {
	insertFn          func(ctx context.Context, response domain.SupplierResponse) error
	listFn            func(ctx context.Context, requestID string) ([]domain.SupplierResponse, error)
	deleteByRequestFn func(ctx context.Context, requestID string) (int, error)
}

func (s *stubSupplierResponseRepo) Insert(ctx context.Context, response domain.SupplierResponse) error {
	if s.insertFn == nil {
		return errors.New("insert not implemented")
	}
	return s.insertFn(ctx, response)
}

func (s *stubSupplierResponseRepo) ListByRequest(ctx context.Context, requestID string) ([]domain.SupplierResponse, error) {
	if s.listFn == nil {
		return nil, errors.New("list not implemented")
	}
	return s.listFn(ctx, requestID)
}

func (s *stubSupplierResponseRepo) DeleteByRequest(ctx context.Context, requestID string) (int, error) {
	if s.deleteByRequestFn == nil {
		return 0, errors.New("delete by request not implemented")
	}
	return s.deleteByRequestFn(ctx, requestID)
}

type stubInvoiceSync struct {
	syncFromRequestFn func(ctx context.Context, requestID string, status RequestStatus) (SyncResult, error)
	syncFromPaymentFn func(ctx context.Context, cmd PaymentEventCommand) error
}

func (s *stubInvoiceSync) SyncFromRequestStatus(ctx context.Context, requestID string, status RequestStatus) (SyncResult, error) {
	if s.syncFromRequestFn == nil {
		return SyncResult{}, errors.New("sync from request not implemented")
	}
	return s.syncFromRequestFn(ctx, requestID, status)
}

func (s *stubInvoiceSync) SyncFromPaymentEvent(ctx context.Context, cmd PaymentEventCommand) error {
	if s.syncFromPaymentFn == nil {
		return errors.New("sync from payment not implemented")
	}
	return s.syncFromPaymentFn(ctx, cmd)
}

type stubNotificationSvc struct {
	createFn func(ctx context.Context, cmd CreateNotificationCommand) (Notification, error)
}

func (s *stubNotificationSvc) CreateNotification(ctx context.Context, cmd CreateNotificationCommand) (Notification, error) {
	if s.createFn == nil {
		return Notification{}, errors.New("create not implemented")
	}
	return s.createFn(ctx, cmd)
}

func (s *stubNotificationSvc) ListNotifications(context.Context, string, NotificationFilter) (domain.CursorPage[Notification], error) {
	return domain.CursorPage[Notification]{}, errors.New("list not implemented")
}

func (s *stubNotificationSvc) MarkAsRead(context.Context, string, string) error {
	return errors.New("mark as read not implemented")
}

func (s *stubNotificationSvc) MarkAllAsRead(context.Context, string) (int, error) {
	return 0, errors.New("mark all as read not implemented")
}

func (s *stubNotificationSvc) UnreadCount(context.Context, string) (int, error) {
	return 0, errors.New("unread count not implemented")
}

type stubPublisher struct {
	publishFn func(ctx context.Context, message NotificationEventMessage) (string, error)
}

func (s *stubPublisher) PublishNotification(ctx context.Context, message NotificationEventMessage) (string, error) {
	if s.publishFn == nil {
		return "", errors.New("publish not implemented")
	}
	return s.publishFn(ctx, message)
}

type stubObjectStore struct {
	deleteFn func(ctx context.Context, objectRef string) error
}

func (s *stubObjectStore) Delete(ctx context.Context, objectRef string) error {
	if s.deleteFn == nil {
		return errors.New("delete not implemented")
	}
	return s.deleteFn(ctx, objectRef)
}

type stubTransitionTrigger struct {
	transitionFn func(ctx context.Context, cmd TransitionCommand) (Request, error)
}

func (s *stubTransitionTrigger) Transition(ctx context.Context, cmd TransitionCommand) (Request, error) {
	if s.transitionFn == nil {
		return Request{}, errors.New("transition not implemented")
	}
	return s.transitionFn(ctx, cmd)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time {
		return at
	}
}

func sequentialIDs(ids ...string) func() string {
	index := 0
	return func() string {
		id := ids[index%len(ids)]
		index++
		return id
	}
}
