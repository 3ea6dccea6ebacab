package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/walmart-ingestion/internal/gcs"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

const uploadTimeout = 2 * time.Minute

// UploadFileWithClient uploads a local file to a bucket under the given object name.
func UploadFileWithClient(ctx context.Context, client *storage.Client, bucketName, objectName, filePath string) error {
	log := logger.FromContext(ctx)

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	log.Info().
		Str("uri", gcs.FormatURI(bucketName, objectName)).
		Int64("bytes", n).
		Msg("File uploaded")
	return nil
}

// ObjectExistsWithClient reports whether the object behind gcsURI exists.
func ObjectExistsWithClient(ctx context.Context, client *storage.Client, gcsURI string) (bool, error) {
	bucketName, objectPath, err := gcs.ParseURI(gcsURI)
	if err != nil {
		return false, err
	}

	_, err = client.Bucket(bucketName).Object(objectPath).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("objectExists: reading attrs of %s: %w", gcsURI, err)
	}
	return true, nil
}

// OpenObjectWithClient opens a reader on the object behind gcsURI. The caller closes it.
func OpenObjectWithClient(ctx context.Context, client *storage.Client, gcsURI string) (io.ReadCloser, error) {
	bucketName, objectPath, err := gcs.ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("openObject: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	return rc, nil
}
