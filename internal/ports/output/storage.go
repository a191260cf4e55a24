// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage defines the secondary port for object storage operations.
type ObjectStorage interface {
	// Stat returns metadata of a single object.
	Stat(ctx context.Context, key string) (StorageObject, error)

	// Download downloads an object to the local filesystem.
	Download(ctx context.Context, key string, dest string) error

	// GetReader returns a reader for the given object.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// LocalObject is a source materialized on the local filesystem.
type LocalObject struct {
	Path string // Local path readable by the format adapters
	Size int64  // Size in bytes, -1 if unknown
}

// ObjectResolver turns a source URI into a local file.
type ObjectResolver interface {
	Resolve(ctx context.Context, uri string) (LocalObject, error)
}
