package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	TypeFilesystem = "filesystem"
	TypeMinio      = "minio"
)

// ErrObjectNotFound is returned when a stored upload does not exist.
var ErrObjectNotFound = errors.New("object not found in storage")

// UploadStore persists decoded upload bytes under a generated filename.
type UploadStore interface {
	Save(ctx context.Context, filename, contentType string, data []byte) error
	Load(ctx context.Context, filename string) ([]byte, error)
}

// Config selects and configures an UploadStore.
type Config struct {
	Type      string      `yaml:"type"`
	Directory string      `yaml:"directory"`
	Minio     MinioConfig `yaml:"minio"`
}

func NewUploadStore(ctx context.Context, cfg Config) (UploadStore, error) {
	switch cfg.Type {
	case TypeFilesystem, "":
		store, err := NewFilesystemStore(cfg.Directory)
		if err != nil {
			return nil, err
		}
		slog.Info("upload store initialized", "type", TypeFilesystem, "directory", cfg.Directory)
		return store, nil
	case TypeMinio:
		store, err := NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			return nil, err
		}
		slog.Info("upload store initialized", "type", TypeMinio, "bucket", cfg.Minio.BucketName)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported upload storage: %s", cfg.Type)
	}
}
