package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStorage implements ImageStore on the local filesystem.
// Each bucket is a sub-directory of baseDir.
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a new filesystem image store
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FilesystemStorage{
		baseDir: baseDir,
	}, nil
}

// resolve maps a location to a path under baseDir
func (fs *FilesystemStorage) resolve(loc Location) (string, error) {
	if loc.Bucket == "" || loc.Key == "" {
		return "", fmt.Errorf("invalid location: bucket and key are required")
	}

	base := filepath.Clean(fs.baseDir)
	path := filepath.Clean(filepath.Join(base, loc.Bucket, loc.Key))

	// Security: prevent directory traversal
	if !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key: path traversal detected")
	}

	return path, nil
}

// Download reads the whole file at the given location
func (fs *FilesystemStorage) Download(ctx context.Context, loc Location) ([]byte, error) {
	path, err := fs.resolve(loc)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, loc.URI())
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// Upload writes r to the given location, creating parent directories
func (fs *FilesystemStorage) Upload(ctx context.Context, loc Location, r io.Reader, contentType string) error {
	path, err := fs.resolve(loc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return file.Close()
}

// Exists checks if a file exists at the given location
func (fs *FilesystemStorage) Exists(ctx context.Context, loc Location) (bool, error) {
	path, err := fs.resolve(loc)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	return true, nil
}
