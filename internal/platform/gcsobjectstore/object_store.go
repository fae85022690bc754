// Package gcsobjectstore implements mcos.ObjectStore against Google Cloud
// Storage, adapted from the teacher's BucketService.
package gcsobjectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// ObjectStore adapts a single GCS bucket into mcos.ObjectStore, used to
// persist artifacts outside the hot path (e.g. exported transcripts).
type ObjectStore struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	cdnDomain     string
}

// New builds an ObjectStore from MCOS_ARTIFACT_GCS_BUCKET /
// MCOS_ARTIFACT_CDN_DOMAIN environment variables.
func New(ctx context.Context, log *logger.Logger) (*ObjectStore, error) {
	bucketName := strings.TrimSpace(os.Getenv("MCOS_ARTIFACT_GCS_BUCKET"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var MCOS_ARTIFACT_GCS_BUCKET")
	}
	cdnDomain := strings.TrimSpace(os.Getenv("MCOS_ARTIFACT_CDN_DOMAIN"))

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &ObjectStore{
		log:           log.With("service", "GCSObjectStore"),
		storageClient: client,
		bucketName:    bucketName,
		cdnDomain:     cdnDomain,
	}, nil
}

func (o *ObjectStore) PutArtifact(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := o.storageClient.Bucket(o.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		_ = w.Close()
		return "", mcos.NewError("PutArtifact", mcos.KindTransient, fmt.Errorf("failed to write object to GCS: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", mcos.NewError("PutArtifact", mcos.KindTransient, fmt.Errorf("failed to close GCS writer: %w", err))
	}
	return o.publicURL(key), nil
}

func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.storageClient.Bucket(o.bucketName).Object(key).Delete(ctx); err != nil {
		return mcos.NewError("Delete", mcos.KindTransient, fmt.Errorf("failed to delete GCS object %q: %w", key, err))
	}
	return nil
}

func (o *ObjectStore) publicURL(key string) string {
	if o.cdnDomain != "" {
		return "https://" + strings.TrimRight(o.cdnDomain, "/") + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", o.bucketName, key)
}
