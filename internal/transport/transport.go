// Package transport delivers prepared messages to the outside world.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/sungwon/mailbatch/internal/message"
)

// Transport sends one message synchronously. A nil error means the remote
// side accepted the message.
type Transport interface {
	Send(ctx context.Context, m *message.Message) error
	Name() string
}

// Config selects and configures a Transport.
type Config struct {
	Type string `mapstructure:"type"` // smtp, stdout, file

	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	TLSMode            string        `mapstructure:"tls_mode"` // none, starttls, implicit
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	HeloName           string        `mapstructure:"helo_name"`
	Timeout            time.Duration `mapstructure:"timeout"`
	DefaultFrom        string        `mapstructure:"default_from"`

	OutputDir string `mapstructure:"output_dir"` // file transport

	DKIM DKIMConfig `mapstructure:"dkim"`
}

// New creates the transport named by cfg.Type.
func New(cfg Config) (Transport, error) {
	switch cfg.Type {
	case "smtp":
		return NewSMTP(cfg)
	case "stdout", "":
		return NewStdout(), nil
	case "file":
		return NewFile(cfg.OutputDir), nil
	default:
		return nil, fmt.Errorf("transport: unsupported type %q", cfg.Type)
	}
}
