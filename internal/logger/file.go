package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the rotating file output.
type FileConfig struct {
	Path      string
	MaxSizeMB int // rotate after this many megabytes
	MaxFiles  int // rotated files kept
}

// NewFileWriter returns a size-rotated log file. Rotated files are gzipped.
func NewFileWriter(cfg FileConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}
}
