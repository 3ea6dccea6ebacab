package gcsuploader

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/walmart-ingestion/internal/gcs"
)

// Re-export interface from shared package for backward compatibility
type StorageService = gcs.StorageService

// GCSStorageService is the concrete implementation of StorageService
// that interacts with Google Cloud Storage through one shared client.
type GCSStorageService struct {
	client *storage.Client
}

// NewGCSStorageService creates a GCSStorageService using Application Default Credentials.
func NewGCSStorageService(ctx context.Context) (*GCSStorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorageService{client: client}, nil
}

// NewGCSStorageServiceWithClient wraps an existing storage client.
func NewGCSStorageServiceWithClient(client *storage.Client) *GCSStorageService {
	return &GCSStorageService{client: client}
}

// Close releases the underlying storage client.
func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// ObjectExists delegates to ObjectExistsWithClient.
func (s *GCSStorageService) ObjectExists(ctx context.Context, gcsURI string) (bool, error) {
	return ObjectExistsWithClient(ctx, s.client, gcsURI)
}

// UploadFile delegates to UploadFileWithClient.
func (s *GCSStorageService) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return UploadFileWithClient(ctx, s.client, bucketName, objectName, filePath)
}

// OpenObject delegates to OpenObjectWithClient.
func (s *GCSStorageService) OpenObject(ctx context.Context, gcsURI string) (io.ReadCloser, error) {
	return OpenObjectWithClient(ctx, s.client, gcsURI)
}

var _ StorageService = (*GCSStorageService)(nil)
