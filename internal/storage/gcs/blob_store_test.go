package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestBlobStore points a storage client at handler.
func newTestBlobStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	payload := []byte("png-bytes")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "snapshots/123/review-a.png", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "image/png")

		fmt.Fprintln(w, `{"name": "snapshots/123/review-a.png", "bucket": "test-bucket"}`)
	})

	store := newTestBlobStore(t, handler, "snapshots")
	uri, err := store.PutObject(context.Background(), "123/review-a.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/snapshots/123/review-a.png", uri)
}

func TestPutObjectError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	store := newTestBlobStore(t, handler, "")
	_, err := store.PutObject(context.Background(), "123/review-a.png", "image/png", bytes.NewReader([]byte("x")))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), "  ", "image/png", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestPutObjectDefaultsContentType(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "123/profile-a.bin", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "application/octet-stream")
		fmt.Fprintln(w, `{"name": "123/profile-a.bin", "bucket": "test-bucket"}`)
	})

	store := newTestBlobStore(t, handler, "")
	uri, err := store.PutObject(context.Background(), "/123/profile-a.bin", "", bytes.NewReader([]byte("raw")))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/123/profile-a.bin", uri)
}
