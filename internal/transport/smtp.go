package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/sungwon/mailbatch/internal/message"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTP submits messages to a relay. Every Send opens its own connection so
// that send workers never share client state.
type SMTP struct {
	addr    string
	host    string
	cfg     Config
	tlsConf *tls.Config
	signer  *Signer
}

var _ Transport = (*SMTP)(nil)

// NewSMTP validates cfg and loads the DKIM key when configured.
func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("transport: smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	switch cfg.TLSMode {
	case "", "none", "starttls", "implicit":
	default:
		return nil, fmt.Errorf("transport: unknown tls mode %q (use none, starttls or implicit)", cfg.TLSMode)
	}

	signer, err := NewSigner(cfg.DKIM)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	return &SMTP{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host: cfg.Host,
		cfg:  cfg,
		tlsConf: &tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test relays
		},
		signer: signer,
	}, nil
}

func (s *SMTP) Name() string { return "smtp" }

// Send renders m, signs it when DKIM is enabled and submits it to every
// envelope recipient.
func (s *SMTP) Send(ctx context.Context, m *message.Message) error {
	from := s.cfg.DefaultFrom
	if addr := m.From(); addr != nil {
		from = addr.Address
	}
	rcpts := m.Recipients()
	if len(rcpts) == 0 {
		return &SendError{Transport: "smtp", Permanent: true, Err: errors.New("message has no recipients")}
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return &SendError{Transport: "smtp", Permanent: true, Err: err}
	}
	data, err := s.signer.Sign(buf.Bytes(), from)
	if err != nil {
		return &SendError{Transport: "smtp", Permanent: true, Err: err}
	}

	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return classifySMTP("auth", err)
		}
	}
	if err := c.SendMail(from, rcpts, bytes.NewReader(data)); err != nil {
		return classifySMTP("send", err)
	}
	if err := c.Quit(); err != nil {
		return classifySMTP("quit", err)
	}
	return nil
}

// dial connects and greets the relay according to the TLS mode. The whole
// conversation is bounded by the configured timeout or the context
// deadline, whichever is earlier.
func (s *SMTP) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, classifySMTP("dial", err)
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, classifySMTP("dial", err)
	}

	switch s.cfg.TLSMode {
	case "starttls":
		c, err := smtp.NewClientStartTLS(conn, s.tlsConf)
		if err != nil {
			conn.Close()
			return nil, classifySMTP("starttls", err)
		}
		return c, nil
	case "implicit":
		c := smtp.NewClient(tls.Client(conn, s.tlsConf))
		if err := s.hello(c); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	default:
		c := smtp.NewClient(conn)
		if err := s.hello(c); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
}

func (s *SMTP) hello(c *smtp.Client) error {
	if s.cfg.HeloName == "" {
		return nil
	}
	if err := c.Hello(s.cfg.HeloName); err != nil {
		return classifySMTP("hello", err)
	}
	return nil
}
