package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage. Keys have
// the form "container/path/to/blob".
type AzureStorage struct {
	client *azblob.Client
}

var _ output.ObjectStorage = (*AzureStorage)(nil)

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		return &AzureStorage{client: client}, nil
	}

	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	client, err := azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	if err != nil {
		return nil, err
	}
	return &AzureStorage{client: client}, nil
}

// splitContainerBlob splits "container/blob".
func splitContainerBlob(key string) (string, string, error) {
	container, blob, ok := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	if !ok || container == "" || blob == "" {
		return "", "", &domain.ConfigError{Field: "uri", Message: fmt.Sprintf("%q is not of the form container/blob", key)}
	}
	return container, blob, nil
}

// Stat returns blob properties.
func (s *AzureStorage) Stat(ctx context.Context, key string) (output.StorageObject, error) {
	container, blob, err := splitContainerBlob(key)
	if err != nil {
		return output.StorageObject{}, err
	}

	props, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).GetProperties(ctx, nil)
	if err != nil {
		return output.StorageObject{}, azureError(key, err)
	}

	obj := output.StorageObject{Key: key}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.LastModified = props.LastModified.Unix()
	}
	if props.ETag != nil {
		obj.ETag = string(*props.ETag)
	}
	return obj, nil
}

// Download downloads a blob from Azure to the local filesystem.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	// Create destination directory
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	// Write to file
	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(f, body)
	return err
}

// GetReader returns a reader for the given blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	container, blob, err := splitContainerBlob(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, azureError(key, err)
	}
	return resp.Body, nil
}

// Exists checks if a blob exists in Azure.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// azureError maps 404 responses to ErrNotFound.
func azureError(key string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("az://%s: %w", key, domain.ErrNotFound)
	}
	return err
}
