package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSStore reads objects from a Google Cloud Storage bucket.
type GCSStore struct {
	Bucket string
	// Client is used when set. Otherwise every Read creates a client with
	// the default credentials.
	Client *storage.Client
}

var _ Reader = (*GCSStore)(nil)

func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	log := klog.FromContext(ctx)
	gcsURL := "gs://" + s.Bucket + "/" + key

	client := s.Client
	if client == nil {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS storage client: %w", err)
		}
		defer c.Close()
		client = c
	}

	log.V(2).Info("downloading graph from GCS", "source", gcsURL)

	startedAt := time.Now()
	r, err := client.Bucket(s.Bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("opening object %q: %w", gcsURL, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object %q: %w", gcsURL, err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("downloading from GCS: %w", err)
	}

	log.V(2).Info("downloaded graph from GCS", "source", gcsURL, "bytes", len(b), "duration", time.Since(startedAt))
	return b, nil
}
