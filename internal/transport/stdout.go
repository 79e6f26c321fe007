package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sungwon/mailbatch/internal/message"
)

// Stdout prints a summary of each message instead of delivering it.
type Stdout struct {
	mu     sync.Mutex
	writer io.Writer
}

var _ Transport = (*Stdout)(nil)

func NewStdout() *Stdout { return &Stdout{writer: os.Stdout} }

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Send(_ context.Context, m *message.Message) error {
	var b strings.Builder
	b.WriteString("--- mailbatch: message ---\n")
	fmt.Fprintf(&b, "Unique-ID:  %s\n", m.UniqueID())
	fmt.Fprintf(&b, "Message-ID: %s\n", m.MessageID())
	fmt.Fprintf(&b, "To:         %s\n", strings.Join(m.Recipients(), ", "))
	fmt.Fprintf(&b, "Subject:    %s\n", m.Subject())
	if t := m.Type(); t != "" {
		fmt.Fprintf(&b, "Type:       %s\n", t)
	}
	fmt.Fprintf(&b, "Body:       (%d bytes)\n", len(m.Body()))
	b.WriteString("--- end ---\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return &SendError{Transport: "stdout", Err: err}
	}
	return nil
}
