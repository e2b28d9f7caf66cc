package blob

import (
	"context"

	"dbkit/internal/infra/blob/fs"
	memorystore "dbkit/internal/infra/blob/memory"
	infraS3 "dbkit/internal/infra/blob/s3"
)

// NewFilesystem constructs a filesystem-backed Store rooted at the provided
// path. Returns the Store interface so call sites don't bind to the concrete
// implementation.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the in-memory S3 mock for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
