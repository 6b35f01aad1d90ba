package modelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// Cache keeps copies of remote graph files in a local directory.
type Cache struct {
	Dir    string
	Remote Reader
}

var _ Reader = (*Cache)(nil)

// Read returns the cached copy of key, downloading it first when absent.
func (c *Cache) Read(ctx context.Context, key string) ([]byte, error) {
	log := klog.FromContext(ctx)

	path := filepath.Join(c.Dir, filepath.FromSlash(key))
	b, err := os.ReadFile(path)
	if err == nil {
		log.V(2).Info("graph cache hit", "key", key, "path", path)
		return b, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading cached graph %q: %w", path, err)
	}

	b, err = c.Remote.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if _, err := writeToFile(ctx, bytes.NewReader(b), path); err != nil {
		return nil, fmt.Errorf("caching graph %q: %w", key, err)
	}
	return b, nil
}

// writeToFile writes src to a temporary file next to destinationPath and
// renames it into place, so readers never see a partial file.
func writeToFile(ctx context.Context, src io.Reader, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	tempFile, err := os.CreateTemp(filepath.Dir(destinationPath), "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false
	return n, nil
}
