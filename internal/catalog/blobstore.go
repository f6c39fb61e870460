package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// BlobStore spills oversized step results or context snapshots out of the
// event log's JSON columns and into object storage, leaving only a
// reference behind in the payload. Grounded on internal/clients/gcp's
// bucket service: a single-bucket, key-addressed Upload/Download/Delete
// surface, generalized from named asset categories (avatar/material) to a
// single spillover bucket addressed by content key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type gcsBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore dials Google Cloud Storage using the same credential
// resolution order as the teacher's bucket service: an inline JSON blob in
// GOOGLE_APPLICATION_CREDENTIALS_JSON, else a credentials file path in
// GOOGLE_APPLICATION_CREDENTIALS, else ambient application-default
// credentials.
func NewGCSBlobStore(ctx context.Context, bucket string) (BlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("catalog: blob store bucket name required")
	}
	opts := clientOptionsFromEnv()
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("catalog: creating storage client: %w", err)
	}
	return &gcsBlobStore{client: client, bucket: bucket}, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	opts := []option.ClientOption{}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

func (s *gcsBlobStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("catalog: writing blob %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("catalog: closing blob writer for %q: %w", key, err)
	}
	return nil
}

func (s *gcsBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening blob %q: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *gcsBlobStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("catalog: deleting blob %q: %w", key, err)
	}
	return nil
}
