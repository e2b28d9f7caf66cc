// Package blob selects and wraps the blob storage backends that hold
// archive output. Callers depend on the Store interface re-exported here;
// the concrete drivers live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"
	"os"

	"dbkit/internal/blob/core"
	infraS3 "dbkit/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config holds explicit S3 construction parameters.
	S3Config = infraS3.Config
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// Settings selects and configures a blob driver. The zero value opens the
// filesystem driver at its default root.
type Settings struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open builds a Store from settings. Environment variables override the
// corresponding fields when set:
//
//	DBKIT_BLOB_DRIVER: fs|s3|memory (default fs)
//	DBKIT_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in internal/infra/blob/s3)
func Open(ctx context.Context, settings Settings) (Store, error) {
	if v := os.Getenv("DBKIT_BLOB_DRIVER"); v != "" {
		settings.Driver = Driver(v)
	}
	if v := os.Getenv("DBKIT_BLOB_FS_ROOT"); v != "" {
		settings.FSRoot = v
	}
	if settings.Driver == "" {
		settings.Driver = DriverFilesystem
	}
	switch settings.Driver {
	case DriverFilesystem:
		return NewFilesystem(settings.FSRoot)
	case DriverS3:
		return NewS3(ctx, infraS3.FromEnv(settings.S3))
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", settings.Driver)
	}
}
