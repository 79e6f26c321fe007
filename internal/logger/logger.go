// Package logger builds the zerolog loggers used across mailbatch and
// carries them through contexts.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config selects level and destination. It mirrors config.LoggingConfig so
// that this package does not import config.
type Config struct {
	Level     string
	Output    string // stdout (default), stderr, file
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
	batchIDKey       contextKey = "batch_id"
)

// New creates a JSON logger on stdout. An invalid level falls back to info.
func New(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFromConfig creates a logger writing to the destination named by
// cfg.Output. "file" rotates through lumberjack.
func NewFromConfig(cfg Config) zerolog.Logger {
	var w io.Writer
	switch cfg.Output {
	case "file":
		w = NewFileWriter(FileConfig{
			Path:      cfg.FilePath,
			MaxSizeMB: cfg.MaxSizeMB,
			MaxFiles:  cfg.MaxFiles,
		})
	case "stderr":
		w = os.Stderr
	default:
		w = os.Stdout
	}
	return newLogger(w, cfg.Level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a request correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// WithBatchID stores the id of the batch being processed.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// CorrelationIDFromContext returns "" when unset.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// BatchIDFromContext returns "" when unset.
func BatchIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(batchIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the context logger with correlation_id and batch_id
// attached when present. Without a stored logger an info-level stdout logger
// is used.
func FromContext(ctx context.Context) zerolog.Logger {
	var log zerolog.Logger
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		log = l
	} else {
		log = New("info")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}
	if id := BatchIDFromContext(ctx); id != "" {
		log = log.With().Str("batch_id", id).Logger()
	}
	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
