package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/docdrop/backend/internal/config"
)

// Backend abstracts durable byte storage. The local-disk backend is the
// default; an S3-compatible backend is available for deployments without
// a shared filesystem. Save returns the canonical storage path recorded
// in the file registry, and Exists is consulted again at grant
// redemption time.
type Backend interface {
	Save(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBackend(cfg.Root)
	case "s3":
		return NewS3Backend(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
