package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCS stores assets in a Cloud Storage bucket. Refs are gs://bucket/key.
// Writes only create objects; rewriting an existing key is treated as done.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (g *GCS) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	ref := fmt.Sprintf("gs://%s/%s", g.name, key)

	writer := g.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return ref, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return ref, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return ref, nil
}

func (g *GCS) Download(ctx context.Context, ref string) ([]byte, error) {
	prefix := fmt.Sprintf("gs://%s/", g.name)
	if !strings.HasPrefix(ref, prefix) {
		return nil, ErrUnknownRef
	}
	r, err := g.bucket.Object(strings.TrimPrefix(ref, prefix)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
