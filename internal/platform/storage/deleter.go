package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// ObjectDeleter removes objects from a bucket. Deleting a missing object is
// treated as success so cascade deletions can be retried safely.
type ObjectDeleter struct {
	bucket  string
	client  *storage.Client
	timeout time.Duration
}

// DeleterOption customises ObjectDeleter behaviour.
type DeleterOption func(*ObjectDeleter)

// WithDeleteTimeout bounds each delete call.
func WithDeleteTimeout(timeout time.Duration) DeleterOption {
	return func(d *ObjectDeleter) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewObjectDeleter constructs an ObjectDeleter for the given bucket.
func NewObjectDeleter(ctx context.Context, bucket string, opts []option.ClientOption, deleterOpts ...DeleterOption) (*ObjectDeleter, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}

	deleter := &ObjectDeleter{
		bucket:  strings.TrimSpace(bucket),
		client:  client,
		timeout: 10 * time.Second,
	}
	for _, opt := range deleterOpts {
		if opt != nil {
			opt(deleter)
		}
	}
	return deleter, nil
}

// Delete removes the named object. A missing object is not an error.
func (d *ObjectDeleter) Delete(ctx context.Context, objectRef string) error {
	if d == nil || d.client == nil {
		return errors.New("storage: deleter not initialised")
	}
	object := strings.TrimSpace(objectRef)
	if object == "" {
		return errInvalidObject
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.client.Bucket(d.bucket).Object(object).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: delete object %s: %w", object, err)
	}
	return nil
}

// Close releases the underlying client.
func (d *ObjectDeleter) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
