// Package storage provides file storage for the statement inbox and archive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a file does not exist.
var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	Name        string            `json:"name"`
	Folder      string            `json:"folder,omitempty"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Path        string            `json:"path"` // Internal storage path
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Storage defines the interface for file storage operations. Folder ""
// is the storage root.
type Storage interface {
	// Upload stores a file under folder. When the name is taken a unique
	// suffix is added; the returned FileInfo carries the stored name.
	Upload(ctx context.Context, folder, filename string, r io.Reader, labels map[string]string) (*FileInfo, error)

	// Download opens a file for reading.
	Download(ctx context.Context, folder, name string) (io.ReadCloser, *FileInfo, error)

	// Delete removes a file and its metadata.
	Delete(ctx context.Context, folder, name string) error

	// List returns the files directly under folder, sorted by name.
	List(ctx context.Context, folder string) ([]*FileInfo, error)

	// GetInfo returns metadata for a file without downloading
	GetInfo(ctx context.Context, folder, name string) (*FileInfo, error)
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
)

// Config holds storage configuration
type Config struct {
	Type      StorageType `yaml:"type"`
	LocalPath string      `yaml:"local_path"`
}

// New creates a new Storage implementation based on configuration
func New(cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}
