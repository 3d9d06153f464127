// Package gcs persists batch progress and item results to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// Objects is the minimal object API the stores need. Bucket implements it for
// GCS; tests use an in-memory fake.
type Objects interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config captures the parameters required to address a bucket.
type Config struct {
	Bucket string
	Prefix string
}

// Bucket reads and writes objects in one GCS bucket.
type Bucket struct {
	client *storage.Client
	bucket string
}

// NewBucket wraps client for cfg.Bucket.
func NewBucket(client *storage.Client, cfg Config) (*Bucket, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Bucket{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data and returns a gs:// URI. The object becomes visible only
// once the writer closes successfully.
func (b *Bucket) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, name), nil
}

// Get downloads an object. Missing objects yield sourcing.ErrNotFound.
func (b *Bucket) Get(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", name, sourcing.ErrNotFound)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes an object; missing objects are ignored.
func (b *Bucket) Delete(ctx context.Context, name string) error {
	err := b.client.Bucket(b.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List returns object names under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
}

func objectPath(prefix string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		segments = append(segments, p)
	}
	segments = append(segments, parts...)
	return strings.Join(segments, "/")
}
