// Package blob stores original uploads and hands out time-limited URLs for them.
package blob

import (
	"context"
	"io"
)

// Store holds objects by name, e.g. documents/<uuid>.pdf.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	URL(ctx context.Context, name string) (string, error)
}
