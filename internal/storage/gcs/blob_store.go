// Package gcs stores failure snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultContentType = "application/octet-stream"

// Config names the bucket and the object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore uploads snapshots to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New binds a BlobStore to cfg.Bucket. The client stays owned by the caller.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	return &BlobStore{
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads r as prefix/name and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("gcs: object name is required")
	}
	object := path.Join(s.prefix, name)

	w := s.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = defaultContentType
	}
	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Join(fmt.Errorf("gcs: upload %s: %w", object, err), w.Close())
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, object), nil
}
