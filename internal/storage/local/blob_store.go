// Package local implements an export directory sink for finished artifacts.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the export directory sink.
type Config struct {
	// BaseDir is the export root directory artifacts are copied into.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore copies artifacts into a directory on the local filesystem.
type BlobStore struct {
	exportDir string
}

// New validates the export directory, creating it when missing.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create export directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat export directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("export path %s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("export directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}

	return &BlobStore{exportDir: filepath.Clean(dir)}, nil
}

// PutObject streams body to exportDir/path and returns a file:// URI. The
// file appears under its final name only once fully written.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, body io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.exportDir, path))
	if !strings.HasPrefix(fullPath, s.exportDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes export directory", path)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return "file://" + fullPath, nil
}
