// Package upload turns multipart uploads into attachment descriptors and
// checks descriptors sent with chat messages against the object store.
package upload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Storage is the object store behind uploads.
type Storage interface {
	// Write stores content from r under key. size is -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Stat returns the metadata of key, or nil when key is not stored.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// GetURL returns a URL clients can fetch key from.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// ObjectInfo is what the store knows about an object.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Config selects and tunes the upload backend.
type Config struct {
	Backend           string        `mapstructure:"backend"` // local, s3
	MaxSize           int64         `mapstructure:"max_size"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
	URLExpiry         time.Duration `mapstructure:"url_expiry"`
	Local             LocalConfig   `mapstructure:"local"`
	S3                S3Config      `mapstructure:"s3"`
}

// DefaultMaxSize is the largest accepted upload.
const DefaultMaxSize int64 = 10 << 20

// DefaultAllowedExtensions lists the accepted file extensions.
func DefaultAllowedExtensions() []string {
	return []string{"jpeg", "jpg", "png", "gif", "pdf", "doc", "docx", "txt"}
}

// NewStorage builds the configured backend.
func NewStorage(ctx context.Context, cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported upload backend: %q", cfg.Backend)
	}
}
