package smtp

import (
	"crypto/tls"
	"fmt"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/sungwon/mailbatch/internal/config"
)

// NewServer configures an SMTP server for b. The caller starts it with
// ListenAndServe or Serve.
func NewServer(cfg config.SMTPConfig, b *Backend) (*gosmtp.Server, error) {
	s := gosmtp.NewServer(b)
	s.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.Domain = cfg.Domain
	if s.Domain == "" {
		s.Domain = "mailbatch"
	}
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageSize
	s.AllowInsecureAuth = cfg.AllowInsecureAuth

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("smtp: load TLS certificate: %w", err)
		}
		s.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		s.EnableSMTPUTF8 = true
	}
	return s, nil
}
