package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/message"
	"github.com/sungwon/mailbatch/internal/pipeline"
)

// DefaultType labels batches submitted over SMTP without an X-Mail-Type
// header.
const DefaultType = "smtp"

var (
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAuthFailed = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
)

// Session handles a single SMTP connection and implements the go-smtp
// Session and AuthSession interfaces.
type Session struct {
	ctx           context.Context
	backend       *Backend
	log           zerolog.Logger
	principal     string
	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms offers PLAIN when keys are configured.
func (s *Session) AuthMechanisms() []string {
	if s.backend.keys == nil {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth handles SMTP AUTH PLAIN. The password is an API key.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if s.backend.keys == nil || mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		principal, ok := s.backend.keys.Authenticate(password)
		if !ok || (username != "" && username != principal) {
			s.log.Warn().Str("username", username).Msg("auth failed")
			return errAuthFailed
		}
		s.principal = principal
		s.authenticated = true
		s.log = s.log.With().Str("principal", principal).Logger()
		s.log.Info().Msg("auth successful")
		return nil
	}), nil
}

func (s *Session) requireAuth() error {
	if s.backend.keys != nil && !s.authenticated {
		return errAuthRequired
	}
	return nil
}

// Mail handles the MAIL FROM command.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if err := s.requireAuth(); err != nil {
		return err
	}

	addr, err := mail.ParseAddress(from)
	if err != nil {
		s.log.Warn().Str("from", from).Msg("invalid sender address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}

	domain := ExtractDomain(addr.Address)
	if !s.isDomainAllowed(domain) {
		s.log.Warn().
			Str("from", addr.Address).
			Str("domain", domain).
			Strs("allowed", s.backend.allowedDomains).
			Msg("sender domain not allowed")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "Sender domain not allowed",
		}
	}

	s.sender = addr.Address
	return nil
}

// Rcpt handles the RCPT TO command.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	if err := ValidateEmailAddress(to); err != nil {
		s.log.Warn().Str("to", to).Msg("invalid recipient address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, to)
	return nil
}

// Data reads the message and submits it as a one-message batch. The reply
// is sent once the message is queued for preparation.
func (s *Session) Data(r io.Reader) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}

	m, err := s.envelope(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed message")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}

	mailType := m.Type()
	if mailType == "" {
		mailType = DefaultType
	}
	res, err := s.backend.submitter.Submit(s.ctx, pipeline.Batch{
		Principal: s.principal,
		Type:      mailType,
		Builders:  []pipeline.Builder{pipeline.Prebuilt(m)},
	}, nil)
	if errors.Is(err, pipeline.ErrStopped) {
		return &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 2},
			Message:      "Service shutting down",
		}
	}
	if err != nil {
		s.log.Error().Err(err).Msg("failed to submit message")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error queuing message",
		}
	}

	batchID := ""
	if b, ok := res.(interface{ BatchID() string }); ok {
		batchID = b.BatchID()
	}
	if s.backend.registry != nil && batchID != "" {
		s.backend.registry.Put(batchID, res)
	}
	s.log.Info().
		Str("batch_id", batchID).
		Str("from", s.sender).
		Int("recipient_count", len(s.recipients)).
		Msg("message submitted")
	return nil
}

// envelope parses raw and reconciles it with the SMTP envelope: envelope
// recipients missing from the headers are added as Bcc, and a message
// without From gets the envelope sender.
func (s *Session) envelope(raw []byte) (*message.Message, error) {
	m, err := message.Parse(raw)
	if err != nil {
		return nil, err
	}

	listed := make(map[string]bool)
	for _, r := range m.Recipients() {
		listed[strings.ToLower(r)] = true
	}
	var missing []*mail.Address
	for _, r := range s.recipients {
		if !listed[strings.ToLower(r)] {
			missing = append(missing, &mail.Address{Address: r})
			listed[strings.ToLower(r)] = true
		}
	}
	if len(missing) > 0 {
		m.AddBcc(missing...)
	}

	if m.From() == nil {
		if s.sender == "" {
			return nil, fmt.Errorf("message has no sender")
		}
		m.SetFrom(&mail.Address{Address: s.sender})
	}
	return m, nil
}

// Reset is called between messages in the same session. It clears the sender
// and recipients but preserves the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects. It decrements the backend's
// active session counter.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	s.log.Debug().Msg("session closed")
	return nil
}

// isDomainAllowed reports whether the sender domain may submit. With no
// allowed domains configured every domain may.
func (s *Session) isDomainAllowed(domain string) bool {
	if len(s.backend.allowedDomains) == 0 {
		return true
	}
	for _, d := range s.backend.allowedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
