// Package storage provides object storage for heap dump files.
//
// Dumps are fetched from a backend (Tencent COS or a local directory) into
// the analysis data directory before parsing. The generated index sidecar
// files can be pushed back so later runs skip the index build.
package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/heap-analysis/pkg/config"
	apperrors "github.com/heap-analysis/pkg/errors"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download downloads data from the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFile downloads data from the specified key to a local file.
	DownloadFile(ctx context.Context, key string, localPath string) error

	// Delete deletes the object at the specified key.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.LocalPath)
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	storageType := StorageType(cfg.Type)

	// Empty type defaults to local
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	if storageType != StorageTypeCOS && storageType != StorageTypeLocal {
		return apperrors.New(apperrors.CodeConfigError, "unsupported storage type: "+cfg.Type)
	}

	if storageType == StorageTypeCOS {
		if cfg.Bucket == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS bucket is required")
		}
		if cfg.Region == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
		}
	}

	if storageType == StorageTypeLocal {
		if cfg.LocalPath == "" {
			return apperrors.New(apperrors.CodeConfigError, "local storage path is required")
		}
	}

	return nil
}

// FetchDump downloads the heap dump at key into dataDir and returns the
// local path. An existing local copy is reused without a download.
func FetchDump(ctx context.Context, s Storage, key string, dataDir string) (string, error) {
	localPath := filepath.Join(dataDir, path.Base(key))

	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStorageError, "failed to check dump existence", err)
	}
	if !ok {
		return "", apperrors.New(apperrors.CodeNotFound, "dump not found: "+key)
	}

	if err := s.DownloadFile(ctx, key, localPath); err != nil {
		return "", apperrors.Wrap(apperrors.CodeDownloadError, "failed to fetch dump "+key, err)
	}
	return localPath, nil
}
