package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to the raw-log archive.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads archived objects back for replay.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// List returns object paths under the given prefix in lexicographic
	// order, which for the archive layout is chronological order.
	List(ctx context.Context, prefix string) ([]string, error)
}
