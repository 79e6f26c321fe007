// Package msgstore provides durable storage for prepared messages. A message
// saved here survives process restarts until it is deleted after a
// successful send.
package msgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("msgstore: message not found")

// ErrInvalidKey is returned for keys that would escape the store namespace.
var ErrInvalidKey = errors.New("msgstore: invalid key")

// Store is a flat blob store addressed by slash separated keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config holds configuration for creating a Store.
type Config struct {
	Type       string `mapstructure:"type"` // "local", "s3" or "memory"
	Path       string `mapstructure:"path"` // base directory for local store
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// New creates a Store based on the provided configuration.
// If Type is empty or unsupported, it defaults to local storage and logs a warning.
func New(cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocalFileStore(cfg.Path)
	case "s3":
		return NewS3StoreFromConfig(cfg)
	case "memory":
		logger.Warn().Msg("memory message store selected, pending messages will not survive a restart")
		return NewMemoryStore(), nil
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty store type, defaulting to local")
		return NewLocalFileStore(cfg.Path)
	}
}

// validateKey rejects empty segments, parent references and backslashes.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
