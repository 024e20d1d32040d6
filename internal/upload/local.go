package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalConfig holds configuration for disk storage.
type LocalConfig struct {
	BasePath     string `mapstructure:"base_path"`
	PublicPrefix string `mapstructure:"public_prefix"`
}

// LocalStorage keeps uploads on the local filesystem and serves them under a
// public URL prefix.
type LocalStorage struct {
	basePath     string
	publicPrefix string
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	base := cfg.BasePath
	if base == "" {
		base = "uploads"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	prefix := cfg.PublicPrefix
	if prefix == "" {
		prefix = "/uploads"
	}
	return &LocalStorage{basePath: abs, publicPrefix: "/" + strings.Trim(prefix, "/")}, nil
}

// BasePath returns the directory files are written to.
func (s *LocalStorage) BasePath() string { return s.basePath }

// PublicPrefix returns the URL path files are served under.
func (s *LocalStorage) PublicPrefix() string { return s.publicPrefix }

func (s *LocalStorage) fullPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

// Write stores the content through a temp file and an atomic rename.
func (s *LocalStorage) Write(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	dst, err := s.fullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	ok = true
	return nil
}

// Stat implements Storage. The content type is derived from the extension.
func (s *LocalStorage) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	p, err := s.fullPath(key)
	if err != nil {
		return nil, nil
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fi.IsDir() {
		return nil, nil
	}
	return &ObjectInfo{Size: fi.Size(), ContentType: mediaTypeFor(key)}, nil
}

// GetURL returns the path the file is served under.
func (s *LocalStorage) GetURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", fmt.Errorf("file not found: %s", key)
	}
	return path.Join(s.publicPrefix, filepath.ToSlash(key)), nil
}

// Delete implements Storage.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	p, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
