// Package storage resolves source URIs to local files. Remote objects in
// S3, Azure Blob Storage or behind HTTP(S) are downloaded into a cache
// directory first.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// LocalStorage implements ObjectStorage for the local filesystem. Relative
// keys are resolved against basePath.
type LocalStorage struct {
	basePath string
}

var _ output.ObjectStorage = (*LocalStorage)(nil)

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// Stat returns file metadata. Directories (a .gdb) report size -1.
func (s *LocalStorage) Stat(_ context.Context, key string) (output.StorageObject, error) {
	info, err := os.Stat(s.FullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return output.StorageObject{}, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
		}
		return output.StorageObject{}, err
	}

	size := info.Size()
	if info.IsDir() {
		size = -1
	}
	return output.StorageObject{
		Key:          key,
		Size:         size,
		LastModified: info.ModTime().Unix(),
	}, nil
}

// Download copies a file to the destination.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	srcPath := s.FullPath(key)

	// If source and dest are the same, nothing to do
	if srcPath == dest {
		return nil
	}

	// Create destination directory if needed
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	// Copy file
	src, err := os.Open(srcPath) //#nosec G304 -- path names a configured source
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", key, domain.ErrNotFound)
		}
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

// GetReader returns a reader for the given object.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- path names a configured source
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return f, err
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	if filepath.IsAbs(key) || s.basePath == "" {
		return key
	}
	return filepath.Join(s.basePath, key)
}
