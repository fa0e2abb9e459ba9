package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docdrop/backend/pkg/logger"
)

type LocalBackend struct {
	root string
}

// NewLocalBackend resolves the storage root to an absolute path and
// creates it if necessary.
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed creating storage root %s: %w", abs, err)
	}
	return &LocalBackend{root: abs}, nil
}

func (l *LocalBackend) Save(_ context.Context, name string, reader io.Reader, size int64, _ string) (string, error) {
	path := filepath.Clean(filepath.Join(l.root, name))

	out, err := os.Create(path)
	if err != nil {
		logger.Error("storage_save_failed", err, map[string]interface{}{
			"path": path,
		})
		return "", err
	}

	written, err := io.Copy(out, reader)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		logger.Error("storage_save_failed", err, map[string]interface{}{
			"path":    path,
			"written": written,
		})
		return "", err
	}

	// Verify the bytes landed and are readable before anything records
	// the path.
	check, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("post-write verification failed for %s: %w", path, err)
	}
	_ = check.Close()

	logger.Info("storage_save_success", map[string]interface{}{
		"path": path,
		"size": written,
	})
	return path, nil
}

func (l *LocalBackend) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (l *LocalBackend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *LocalBackend) Delete(_ context.Context, path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		logger.Error("storage_delete_failed", err, map[string]interface{}{
			"path": path,
		})
		return err
	}
	return nil
}
