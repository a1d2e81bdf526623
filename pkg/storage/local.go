package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const metaDirName = ".meta"

// LocalStorage implements Storage using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Root returns the storage base path.
func (s *LocalStorage) Root() string { return s.basePath }

// Upload stores a file and returns its metadata
func (s *LocalStorage) Upload(ctx context.Context, folder, filename string, r io.Reader, labels map[string]string) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := s.folderPath(folder)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	stored := sanitizeFilename(filename)
	if stored == "" {
		return nil, fmt.Errorf("invalid filename %q", filename)
	}
	filePath := filepath.Join(dir, stored)

	// O_EXCL so an existing file is never overwritten
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		stored = uniqueName(stored)
		filePath = filepath.Join(dir, stored)
		f, err = os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(filePath) // Cleanup on error
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info := &FileInfo{
		Name:        stored,
		Folder:      folder,
		Size:        size,
		ContentType: mime.TypeByExtension(filepath.Ext(stored)),
		Path:        filepath.Join(folder, stored),
		Labels:      labels,
		CreatedAt:   time.Now(),
	}

	if len(labels) > 0 {
		if err := s.saveMetadata(dir, info); err != nil {
			os.Remove(filePath) // Cleanup on error
			return nil, err
		}
	}
	return info, nil
}

// Download retrieves a file by folder and name
func (s *LocalStorage) Download(ctx context.Context, folder, name string) (io.ReadCloser, *FileInfo, error) {
	info, err := s.GetInfo(ctx, folder, name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.basePath, info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, info, nil
}

// Delete removes a file by folder and name
func (s *LocalStorage) Delete(ctx context.Context, folder, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.folderPath(folder)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(folder, name))
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	os.Remove(filepath.Join(dir, metaDirName, name+".json"))
	return nil
}

// List returns the regular files of a folder
func (s *LocalStorage) List(ctx context.Context, folder string) ([]*FileInfo, error) {
	dir, err := s.folderPath(folder)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []*FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list folder: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := s.GetInfo(ctx, folder, entry.Name())
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// GetInfo returns metadata for a file without downloading
func (s *LocalStorage) GetInfo(ctx context.Context, folder, name string) (*FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.folderPath(folder)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(folder, name))
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	info := &FileInfo{
		Name:        name,
		Folder:      folder,
		Size:        st.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Path:        filepath.Join(folder, name),
		CreatedAt:   st.ModTime(),
	}

	data, err := os.ReadFile(filepath.Join(dir, metaDirName, name+".json"))
	switch {
	case err == nil:
		var meta FileInfo
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		info.Labels = meta.Labels
		info.CreatedAt = meta.CreatedAt
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return info, nil
}

// saveMetadata saves file metadata to a JSON file
func (s *LocalStorage) saveMetadata(dir string, info *FileInfo) error {
	metaDir := filepath.Join(dir, metaDirName)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(metaDir, info.Name+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// folderPath resolves folder below the base path.
func (s *LocalStorage) folderPath(folder string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(folder))
	if clean == "." {
		return s.basePath, nil
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("folder %q escapes storage root", folder)
	}
	return filepath.Join(s.basePath, clean), nil
}

func uniqueName(name string) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), uuid.NewString()[:8], ext)
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	// Replace path separators and other dangerous characters
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return strings.TrimSpace(replacer.Replace(name))
}
