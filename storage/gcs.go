package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// objectWriterFunc opens an upload for one object. The upload is committed on
// Close.
type objectWriterFunc func(ctx context.Context, bucket, key, contentType string) io.WriteCloser

// GCSSink uploads images to a Google Cloud Storage bucket.
type GCSSink struct {
	newWriter objectWriterFunc
	bucket    string
	prefix    string
}

// NewGCSSink wraps an existing client.
func NewGCSSink(client *gcs.Client, bucket, prefix string) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newGCSSink(func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}, bucket, prefix)
}

func newGCSSink(newWriter objectWriterFunc, bucket, prefix string) (*GCSSink, error) {
	if newWriter == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSSink{newWriter: newWriter, bucket: bucket, prefix: prefix}, nil
}

// Put uploads data and returns a gs:// URI.
func (s *GCSSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := objectKey(s.prefix, name)
	writer := s.newWriter(ctx, s.bucket, key, ContentType(name))
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("%w: write gs://%s/%s: %w (close writer: %v)", ErrStorage, s.bucket, key, err, closeErr)
		}
		return "", fmt.Errorf("%w: write gs://%s/%s: %w", ErrStorage, s.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: close gs://%s/%s: %w", ErrStorage, s.bucket, key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
