package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/sungwon/mailbatch/internal/message"
)

type receivedMail struct {
	from string
	to   []string
	data string
}

// relayBackend is an in-process SMTP relay used to exercise the client.
type relayBackend struct {
	user, pass string
	reject     string // recipient answered with 550

	mu       sync.Mutex
	received []receivedMail
}

func (b *relayBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &relaySession{b: b}, nil
}

func (b *relayBackend) messages() []receivedMail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedMail(nil), b.received...)
}

type relaySession struct {
	b      *relayBackend
	authed bool
	cur    receivedMail
}

func (s *relaySession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *relaySession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.b.user || password != s.b.pass {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, _ *smtp.MailOptions) error {
	if s.b.user != "" && !s.authed {
		return &smtp.SMTPError{Code: 530, EnhancedCode: smtp.EnhancedCode{5, 7, 0}, Message: "authentication required"}
	}
	s.cur.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if to == s.b.reject {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	}
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = string(data)
	s.b.mu.Lock()
	s.b.received = append(s.b.received, s.cur)
	s.b.mu.Unlock()
	return nil
}

func (s *relaySession) Reset()        { s.cur = receivedMail{} }
func (s *relaySession) Logout() error { return nil }

func startRelay(t *testing.T, be *relayBackend) (string, int) {
	t.Helper()
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func newOutgoing(to ...string) *message.Message {
	m := message.New()
	m.SetFrom(&mail.Address{Address: "sender@example.com"})
	addrs := make([]*mail.Address, 0, len(to))
	for _, a := range to {
		addrs = append(addrs, &mail.Address{Address: a})
	}
	m.SetTo(addrs...)
	m.SetBcc(&mail.Address{Address: "audit@example.com"})
	m.SetSubject("Quarterly report")
	m.SetTextBody("hello\r\n")
	return m
}

func TestSMTP_SendWithAuth(t *testing.T) {
	be := &relayBackend{user: "mailer", pass: "secret"}
	host, port := startRelay(t, be)

	tr, err := NewSMTP(Config{Host: host, Port: port, Username: "mailer", Password: "secret", HeloName: "mailbatch.test", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if err := tr.Send(context.Background(), newOutgoing("a@x", "b@x")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := be.messages()
	if len(got) != 1 {
		t.Fatalf("relay received %d messages, want 1", len(got))
	}
	if got[0].from != "sender@example.com" {
		t.Errorf("MAIL FROM = %q", got[0].from)
	}
	if strings.Join(got[0].to, ",") != "a@x,b@x,audit@example.com" {
		t.Errorf("RCPT TO = %v", got[0].to)
	}
	if strings.Contains(got[0].data, "audit@example.com") {
		t.Error("Bcc header was transmitted")
	}
	if !strings.Contains(got[0].data, "Subject: Quarterly report") {
		t.Errorf("data = %q", got[0].data)
	}
}

func TestSMTP_RecipientRejected(t *testing.T) {
	be := &relayBackend{reject: "gone@x"}
	host, port := startRelay(t, be)

	tr, err := NewSMTP(Config{Host: host, Port: port, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	err = tr.Send(context.Background(), newOutgoing("gone@x"))
	if err == nil {
		t.Fatal("Send succeeded, want rejection")
	}
	if !IsRejected(err) || !IsPermanent(err) {
		t.Errorf("err = %v, want permanent rejection", err)
	}
	if len(be.messages()) != 0 {
		t.Error("rejected message was delivered")
	}
}

func TestSMTP_BadCredentials(t *testing.T) {
	be := &relayBackend{user: "mailer", pass: "secret"}
	host, port := startRelay(t, be)

	tr, err := NewSMTP(Config{Host: host, Port: port, Username: "mailer", Password: "wrong", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if err := tr.Send(context.Background(), newOutgoing("a@x")); !IsRejected(err) {
		t.Errorf("err = %v, want an SMTP reply error", err)
	}
}

func TestSMTP_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr, err := NewSMTP(Config{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	err = tr.Send(context.Background(), newOutgoing("a@x"))
	if err == nil {
		t.Fatal("Send to closed port succeeded")
	}
	if IsRejected(err) {
		t.Errorf("unreachable relay classified as rejection: %v", err)
	}
}

func TestSMTP_SignsWithDKIM(t *testing.T) {
	be := &relayBackend{}
	host, port := startRelay(t, be)

	tr, err := NewSMTP(Config{
		Host: host, Port: port, Timeout: 5 * time.Second,
		DKIM: DKIMConfig{Selector: "mail", KeyFile: writeTestKey(t)},
	})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if err := tr.Send(context.Background(), newOutgoing("a@x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := be.messages(); len(got) != 1 || !strings.HasPrefix(got[0].data, "DKIM-Signature:") {
		t.Errorf("relay did not receive a signed message: %+v", got)
	}
}

func TestNewSMTP_Validation(t *testing.T) {
	if _, err := NewSMTP(Config{}); err == nil {
		t.Error("expected error without host")
	}
	if _, err := NewSMTP(Config{Host: "relay", TLSMode: "ssl"}); err == nil {
		t.Error("expected error for unknown tls mode")
	}
}
