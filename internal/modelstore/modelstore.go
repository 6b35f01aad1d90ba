// Package modelstore fetches graph files from local disk or Google Cloud
// Storage.
package modelstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Reader reads a graph file by key.
type Reader interface {
	// If no such object exists, Read returns an error for which
	// errors.Is(err, os.ErrNotExist) is true.
	Read(ctx context.Context, key string) ([]byte, error)
}

// Location is a parsed graph URI.
type Location struct {
	// Bucket is set for gs:// URIs only.
	Bucket string
	// Key is the object name within Bucket, or a file path.
	Key string
}

// Remote reports whether the location is in a GCS bucket.
func (l Location) Remote() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.Remote() {
		return "gs://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// ParseURI accepts gs://bucket/object, file:///path and plain paths.
func ParseURI(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "gs://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("graph URI %q must have the form gs://<bucket>/<object>", uri)
		}
		return Location{Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(uri, "file://"):
		uri = strings.TrimPrefix(uri, "file://")
	case strings.Contains(uri, "://"):
		return Location{}, fmt.Errorf("graph URI %q has an unsupported scheme", uri)
	}
	if uri == "" {
		return Location{}, fmt.Errorf("empty graph path")
	}
	return Location{Key: uri}, nil
}

// Open resolves uri to a reader and key.
func Open(uri string) (Reader, string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, "", err
	}
	if loc.Remote() {
		return &GCSStore{Bucket: loc.Bucket}, loc.Key, nil
	}
	return &LocalStore{}, loc.Key, nil
}

// Fetch reads the graph file at uri.
func Fetch(ctx context.Context, uri string) ([]byte, error) {
	r, key, err := Open(uri)
	if err != nil {
		return nil, err
	}
	return r.Read(ctx, key)
}

// LocalStore reads files below BaseDir. An empty BaseDir resolves keys
// against the working directory.
type LocalStore struct {
	BaseDir string
}

var _ Reader = (*LocalStore)(nil)

func (s *LocalStore) Read(_ context.Context, key string) ([]byte, error) {
	path := filepath.FromSlash(key)
	if s.BaseDir != "" {
		path = filepath.Join(s.BaseDir, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}
	return b, nil
}
