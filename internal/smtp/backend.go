// Package smtp accepts mail over SMTP submission and turns every accepted
// message into a one-message batch of the pipeline.
package smtp

import (
	"context"
	"sync/atomic"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/auth"
	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/logger"
	"github.com/sungwon/mailbatch/internal/pipeline"
)

// Submitter starts batches. *pipeline.Controller implements it.
type Submitter interface {
	Submit(ctx context.Context, batch pipeline.Batch, l listener.Listener) (ledger.Result, error)
}

// Registrar is told about every batch the ingress starts, so that the
// API can serve its status.
type Registrar interface {
	Put(batchID string, res ledger.Result)
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	submitter      Submitter
	keys           *auth.Keyring
	registry       Registrar
	allowedDomains []string
	log            zerolog.Logger
	maxConns       int
	active         atomic.Int64
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithKeys requires AUTH PLAIN with an API key as the password. The
// username, when given, must be the key's principal.
func WithKeys(keys *auth.Keyring) BackendOption {
	return func(b *Backend) { b.keys = keys }
}

// WithRegistry reports started batches to r.
func WithRegistry(r Registrar) BackendOption {
	return func(b *Backend) { b.registry = r }
}

// WithAllowedSenderDomains restricts MAIL FROM to the given domains.
func WithAllowedSenderDomains(domains ...string) BackendOption {
	return func(b *Backend) { b.allowedDomains = domains }
}

// NewBackend creates a backend accepting at most maxConns concurrent
// sessions.
func NewBackend(submitter Submitter, log zerolog.Logger, maxConns int, opts ...BackendOption) *Backend {
	b := &Backend{
		submitter: submitter,
		log:       log.With().Str("component", "smtp").Logger(),
		maxConns:  maxConns,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSession is called after a client sends EHLO/HELO. It enforces connection
// limits and creates a new Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	current := b.active.Add(1)
	if int(current) > b.maxConns {
		b.active.Add(-1)
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.maxConns).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}

	correlationID := logger.NewCorrelationID()
	ctx := logger.WithCorrelationID(context.Background(), correlationID)

	sessionLog := b.log.With().
		Str("correlation_id", correlationID).
		Str("remote_addr", conn.Conn().RemoteAddr().String()).
		Logger()
	sessionLog.Debug().Msg("new SMTP session")

	return &Session{
		ctx:     ctx,
		backend: b,
		log:     sessionLog,
	}, nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}
