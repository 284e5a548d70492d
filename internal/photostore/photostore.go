// Package photostore holds the thumbnail blobs of committed items.
package photostore

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("photo not found")

// PhotoStore saves blobs under generated keys. prefix groups related blobs
// and is sanitized by implementations.
type PhotoStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}
