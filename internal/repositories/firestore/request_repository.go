package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sourcelane/api/internal/domain"
	pfirestore "github.com/sourcelane/api/internal/platform/firestore"
	"github.com/sourcelane/api/internal/repositories"
)

const requestsCollection = "requests"

type requestDocument struct {
	CustomerID          string     `firestore:"customerId"`
	ProductID           string     `firestore:"productId"`
	InvoiceID           *string    `firestore:"invoiceId,omitempty"`
	Status              string     `firestore:"status"`
	ResolutionStatus    string     `firestore:"resolutionStatus"`
	AdminProcessing     bool       `firestore:"adminProcessing"`
	ProcessingClaimedAt *time.Time `firestore:"processingClaimedAt,omitempty"`
	Quantity            int        `firestore:"quantity"`
	Notes               string     `firestore:"notes,omitempty"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
}

// RequestRepository implements repositories.RequestRepository backed by Firestore.
type RequestRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[requestDocument]
}

// NewRequestRepository constructs a Firestore-backed request repository.
func NewRequestRepository(provider *pfirestore.Provider) (*RequestRepository, error) {
	if provider == nil {
		return nil, errors.New("request repository requires firestore provider")
	}
	base := pfirestore.NewCollection[requestDocument](provider, requestsCollection)
	return &RequestRepository{provider: provider, base: base}, nil
}

// Insert creates the request document and fails when the id already exists.
func (r *RequestRepository) Insert(ctx context.Context, request domain.Request) error {
	ref, err := r.base.Doc(ctx, request.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeRequest(request)); err != nil {
		return pfirestore.WrapError("requests.insert", err)
	}
	return nil
}

// Update overwrites the request document.
func (r *RequestRepository) Update(ctx context.Context, request domain.Request) error {
	if err := r.base.Set(ctx, request.ID, encodeRequest(request)); err != nil {
		return pfirestore.WrapError("requests.update", err)
	}
	return nil
}

// FindByID fetches a single request.
func (r *RequestRepository) FindByID(ctx context.Context, requestID string) (domain.Request, error) {
	doc, err := r.base.Get(ctx, requestID)
	if err != nil {
		return domain.Request{}, pfirestore.WrapError("requests.find", err)
	}
	return decodeRequest(doc.ID, doc.Data), nil
}

// ListByCustomer returns the customer's requests newest first with cursor pagination.
func (r *RequestRepository) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Request], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Request]{}, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[domain.Request]{}, errors.New("request repository: customer id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}

	query := coll.Where("customerId", "==", customerID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	var fetchLimit int
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.Request]{}, fmt.Errorf("requests.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []domain.Request
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Request]{}, pfirestore.WrapError("requests.list", err)
		}
		var doc requestDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Request]{}, fmt.Errorf("decode request %s: %w", snap.Ref.ID, err)
		}
		items = append(items, decodeRequest(snap.Ref.ID, doc))
	}

	nextToken := ""
	if limit > 0 && len(items) == fetchLimit {
		last := items[len(items)-1]
		nextToken = encodeCursorToken(last.CreatedAt, last.ID)
		items = items[:len(items)-1]
	}

	return domain.CursorPage[domain.Request]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// CountByProduct reports how many requests reference the product.
func (r *RequestRepository) CountByProduct(ctx context.Context, productID string) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, errors.New("request repository: product id is required")
	}

	query := coll.Where("productId", "==", productID)
	agg := query.NewAggregationQuery().WithCount("total")
	results, err := agg.Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("requests.countByProduct", err)
	}
	value, ok := results["total"].(*firestorepb.Value)
	if !ok {
		return 0, errors.New("request repository: unexpected aggregation result")
	}
	return int(value.GetIntegerValue()), nil
}

// Delete removes the request document. Deleting a missing document reports not found.
func (r *RequestRepository) Delete(ctx context.Context, requestID string) error {
	ref, err := r.base.Doc(ctx, requestID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("requests.delete", err)
	}
	return nil
}

// ClaimProcessing sets the processing flag through a transaction so exactly one
// caller wins. A held claim surfaces as a conflict.
func (r *RequestRepository) ClaimProcessing(ctx context.Context, requestID string, claimedAt time.Time) (domain.Request, error) {
	ref, err := r.base.Doc(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}

	var claimed domain.Request
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc requestDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode request %s: %w", snap.Ref.ID, err)
		}
		if doc.AdminProcessing {
			return status.Error(codes.FailedPrecondition, "processing claim already held")
		}

		at := claimedAt.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "adminProcessing", Value: true},
			{Path: "processingClaimedAt", Value: at},
		}); err != nil {
			return err
		}

		doc.AdminProcessing = true
		doc.ProcessingClaimedAt = &at
		claimed = decodeRequest(snap.Ref.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Request{}, pfirestore.WrapError("requests.claim", err)
	}
	return claimed, nil
}

// ReleaseProcessing clears the processing flag unconditionally.
func (r *RequestRepository) ReleaseProcessing(ctx context.Context, requestID string) error {
	ref, err := r.base.Doc(ctx, requestID)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, []firestore.Update{
		{Path: "adminProcessing", Value: false},
		{Path: "processingClaimedAt", Value: firestore.Delete},
	}); err != nil {
		return pfirestore.WrapError("requests.release", err)
	}
	return nil
}

// ReleaseStaleClaims clears claims taken before the cutoff and returns how many it released.
func (r *RequestRepository) ReleaseStaleClaims(ctx context.Context, before time.Time) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}

	query := coll.Where("adminProcessing", "==", true).
		Where("processingClaimedAt", "<", before.UTC())
	iter := query.Documents(ctx)
	defer iter.Stop()

	released := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return released, pfirestore.WrapError("requests.releaseStale", err)
		}
		if _, err := snap.Ref.Update(ctx, []firestore.Update{
			{Path: "adminProcessing", Value: false},
			{Path: "processingClaimedAt", Value: firestore.Delete},
		}); err != nil {
			// A concurrently deleted request leaves nothing to release.
			if status.Code(err) == codes.NotFound {
				continue
			}
			return released, pfirestore.WrapError("requests.releaseStale", err)
		}
		released++
	}
	return released, nil
}

func (r *RequestRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("request repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(requestsCollection), nil
}

func encodeRequest(request domain.Request) requestDocument {
	var claimedAt *time.Time
	if request.ProcessingClaimedAt != nil {
		at := request.ProcessingClaimedAt.UTC()
		claimedAt = &at
	}
	return requestDocument{
		CustomerID:          request.CustomerID,
		ProductID:           request.ProductID,
		InvoiceID:           request.InvoiceID,
		Status:              string(request.Status),
		ResolutionStatus:    string(request.ResolutionStatus),
		AdminProcessing:     request.AdminProcessing,
		ProcessingClaimedAt: claimedAt,
		Quantity:            request.Quantity,
		Notes:               request.Notes,
		CreatedAt:           request.CreatedAt.UTC(),
		UpdatedAt:           request.UpdatedAt.UTC(),
	}
}

func decodeRequest(id string, doc requestDocument) domain.Request {
	resolution := domain.ResolutionStatus(doc.ResolutionStatus)
	if resolution == "" {
		resolution = domain.ResolutionStatusNone
	}
	return domain.Request{
		ID:                  id,
		CustomerID:          doc.CustomerID,
		ProductID:           doc.ProductID,
		InvoiceID:           doc.InvoiceID,
		Status:              domain.RequestStatus(doc.Status),
		ResolutionStatus:    resolution,
		AdminProcessing:     doc.AdminProcessing,
		ProcessingClaimedAt: doc.ProcessingClaimedAt,
		Quantity:            doc.Quantity,
		Notes:               doc.Notes,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.RequestRepository = (*RequestRepository)(nil)
