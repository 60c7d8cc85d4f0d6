// Package storage archives generated documents (rendered emails, report exports)
// on the local filesystem or in Azure Blob Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/config"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when nothing is stored under the path
var ErrNotFound = errors.New("archive entry not found")

// Storage defines the archive operations. Entries are write-once; there is no delete.
type Storage interface {
	// Put writes data under key and returns the stored path and size
	Put(ctx context.Context, key string, contentType string, data io.Reader) (string, int64, error)
	// Get opens a stored entry; the caller closes it
	Get(ctx context.Context, storagePath string) (io.ReadCloser, error)
}

// NewStorage creates a storage backend from configuration
func NewStorage(cfg *config.StorageConfig, logger *zap.Logger) (Storage, error) {
	switch cfg.Mode {
	case "local":
		return NewLocalStorage(cfg.LocalBasePath)
	case "cloud", "azure":
		if cfg.CloudConnectionString == "" {
			return nil, fmt.Errorf("cloud connection string required for azure storage")
		}
		return NewAzureBlobStorage(cfg.CloudConnectionString, cfg.CloudContainer, logger)
	default:
		return nil, fmt.Errorf("unsupported storage mode: %s", cfg.Mode)
	}
}

// ArchiveKey builds a collision-free key such as "emails/2024/03/1a2b3c4d-PO-2024-0301120000-approval.html"
func ArchiveKey(kind, name string, at time.Time) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	return path.Join(kind, at.UTC().Format("2006/01"), uuid.NewString()[:8]+"-"+clean)
}

// LocalStorage stores archive entries below a base directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the base directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// resolve maps a storage key to a path inside the base directory
func (s *LocalStorage) resolve(key string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return full, nil
}

func (s *LocalStorage) Put(ctx context.Context, key string, contentType string, data io.Reader) (string, int64, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, data)
	if err != nil {
		os.Remove(fullPath)
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}

	return key, size, nil
}

func (s *LocalStorage) Get(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}
