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

const statusHistoryCollectionPattern = "requests/%s/statusHistory"

type statusHistoryDocument struct {
	Status    string    `firestore:"status"`
	Notes     string    `firestore:"notes,omitempty"`
	UpdatedBy string    `firestore:"updatedBy"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// StatusHistoryRepository implements repositories.StatusHistoryRepository as a
// per-request subcollection.
type StatusHistoryRepository struct {
	provider *pfirestore.Provider
}

// NewStatusHistoryRepository constructs a Firestore-backed status history repository.
func NewStatusHistoryRepository(provider *pfirestore.Provider) (*StatusHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("status history repository requires firestore provider")
	}
	return &StatusHistoryRepository{provider: provider}, nil
}

// Append creates a new history document. Entries are never updated afterwards.
func (r *StatusHistoryRepository) Append(ctx context.Context, entry domain.StatusHistoryEntry) error {
	coll, err := r.collection(ctx, entry.RequestID)
	if err != nil {
		return err
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return errors.New("status history repository: entry id is required")
	}

	doc := statusHistoryDocument{
		Status:    string(entry.Status),
		Notes:     entry.Notes,
		UpdatedBy: entry.UpdatedBy,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if _, err := coll.Doc(entryID).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("statusHistory.append", err)
	}
	return nil
}

// ListByRequest returns history entries oldest first with cursor pagination.
func (r *StatusHistoryRepository) ListByRequest(ctx context.Context, requestID string, pager domain.Pagination) (domain.CursorPage[domain.StatusHistoryEntry], error) {
	coll, err := r.collection(ctx, requestID)
	if err != nil {
		return domain.CursorPage[domain.StatusHistoryEntry]{}, err
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}

	query := coll.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	var fetchLimit int
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, fmt.Errorf("statusHistory.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []domain.StatusHistoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, pfirestore.WrapError("statusHistory.list", err)
		}
		var doc statusHistoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StatusHistoryEntry]{}, fmt.Errorf("decode history entry %s: %w", snap.Ref.ID, err)
		}
		items = append(items, domain.StatusHistoryEntry{
			ID:        snap.Ref.ID,
			RequestID: requestID,
			Status:    domain.RequestStatus(doc.Status),
			Notes:     doc.Notes,
			UpdatedBy: doc.UpdatedBy,
			CreatedAt: doc.CreatedAt,
		})
	}

	nextToken := ""
	if limit > 0 && len(items) == fetchLimit {
		last := items[len(items)-1]
		nextToken = encodeCursorToken(last.CreatedAt, last.ID)
		items = items[:len(items)-1]
	}

	return domain.CursorPage[domain.StatusHistoryEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// DeleteByRequest removes every history entry for the request and returns the count.
func (r *StatusHistoryRepository) DeleteByRequest(ctx context.Context, requestID string) (int, error) {
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
			return deleted, pfirestore.WrapError("statusHistory.deleteByRequest", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return deleted, pfirestore.WrapError("statusHistory.deleteByRequest", err)
		}
		deleted++
	}
	return deleted, nil
}

func (r *StatusHistoryRepository) collection(ctx context.Context, requestID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("status history repository not initialised")
	}
	id := strings.TrimSpace(requestID)
	if id == "" {
		return nil, errors.New("status history repository: request id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(statusHistoryCollectionPattern, id)), nil
}

// Ensure interface compliance.
var _ repositories.StatusHistoryRepository = (*StatusHistoryRepository)(nil)
