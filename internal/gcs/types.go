package gcs

import (
	"context"
	"io"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// ObjectExists reports whether the object at the storage URI exists.
	ObjectExists(ctx context.Context, gcsURI string) (bool, error)

	// UploadFile uploads a local file to a storage bucket under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error

	// OpenObject opens a streaming reader on the object at the storage URI.
	OpenObject(ctx context.Context, gcsURI string) (io.ReadCloser, error)
}
