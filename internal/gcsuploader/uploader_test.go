package gcsuploader

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func offlineStorageClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint("http://127.0.0.1:0/storage/v1/"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestObjectExistsWithClient_InvalidURI(t *testing.T) {
	client := offlineStorageClient(t)

	ok, err := ObjectExistsWithClient(context.Background(), client, "bucket/file.json")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "invalid GCS URI")
}

func TestOpenObjectWithClient_InvalidURI(t *testing.T) {
	client := offlineStorageClient(t)

	rc, err := OpenObjectWithClient(context.Background(), client, "gs://bucket-only")
	require.Error(t, err)
	assert.Nil(t, rc)
}

func TestUploadFileWithClient_MissingFile(t *testing.T) {
	client := offlineStorageClient(t)

	err := UploadFileWithClient(context.Background(), client, "bucket", "obj.json", "/does/not/exist.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open file")
}
