package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a stored response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch signals that a key was reused with a different
// request body or target.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Status is the lifecycle state of a stored key.
type Status string

const (
	// StatusPending marks a key reserved by an in-flight request.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response is stored for replay.
	StatusCompleted Status = "completed"
)

// ReservationState tells the middleware what to do with the incoming request.
type ReservationState int

const (
	// ReservationStateNew lets the request proceed to the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted replays the stored response.
	ReservationStateCompleted
	// ReservationStatePending rejects the request while a twin is in flight.
	ReservationStatePending
)

// Reservation is the outcome of Reserve, carrying the stored record when one exists.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state for one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// header rebuilds an http.Header from the stored values.
func (r Record) header() http.Header {
	header := make(http.Header, len(r.ResponseHeaders))
	for name, vals := range r.ResponseHeaders {
		header[name] = append([]string(nil), vals...)
	}
	return header
}

// Response is the handler output captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and captured responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// docID hashes the client key into a storage id. The fingerprint is stored on
// the record and checked at reserve time rather than mixed into the id, so a
// reused key with a different body surfaces as a mismatch instead of a new
// reservation.
func docID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hop-by-hop and recomputed headers are dropped before storage; replaying
// them would conflict with the values the server sets on the replay response.
var unsafeReplayHeaders = map[string]struct{}{
	"content-length":      {},
	"date":                {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func sanitizeHeaders(header http.Header) map[string][]string {
	var filtered map[string][]string
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, unsafe := unsafeReplayHeaders[strings.ToLower(canonical)]; unsafe {
			continue
		}
		if filtered == nil {
			filtered = make(map[string][]string, len(header))
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	return filtered
}
