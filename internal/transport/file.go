package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sungwon/mailbatch/internal/message"
)

const defaultOutputDir = "./mail_output"

// File writes each message as an .eml file in a directory.
type File struct {
	outputDir string
}

var _ Transport = (*File)(nil)

// NewFile uses ./mail_output when dir is empty.
func NewFile(dir string) *File {
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir}
}

func (f *File) Name() string { return "file" }

// Send writes <timestamp>_<unique id>.eml.
func (f *File) Send(_ context.Context, m *message.Message) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return &SendError{Transport: "file", Err: fmt.Errorf("create output dir: %w", err)}
	}

	name := fmt.Sprintf("%s_%s.eml", time.Now().Format("20060102_150405"), m.UniqueID())
	path := filepath.Join(f.outputDir, name)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return &SendError{Transport: "file", Err: err}
	}
	if _, err := m.WriteTo(out); err != nil {
		out.Close()
		return &SendError{Transport: "file", Err: fmt.Errorf("write %s: %w", path, err)}
	}
	if err := out.Close(); err != nil {
		return &SendError{Transport: "file", Err: err}
	}
	return nil
}
