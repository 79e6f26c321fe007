// Package message provides the prepared outgoing message model used by the
// batch pipeline: an RFC 5322 header plus body with a memoized,
// content-derived unique id.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// TypeHeader carries the caller supplied mail type label (e.g. "newsletter").
const TypeHeader = "X-Mail-Type"

// Message is an outgoing message. It is not safe for concurrent mutation;
// the pipeline hands a message to one worker at a time.
type Message struct {
	header mail.Header
	body   []byte

	// uniqueID is cleared by the setters that change the Message-Id or To
	// header and recomputed on the next UniqueID call.
	uniqueID string
}

// New returns an empty message with the Date header set to now.
func New() *Message {
	m := &Message{}
	m.header.SetDate(time.Now())
	return m
}

// Parse reads a raw RFC 5322 message.
func Parse(raw []byte) (*Message, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("message: read header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("message: read body: %w", err)
	}
	m := &Message{body: body}
	m.header.Header.Header = h
	return m, nil
}

// MessageID returns the Message-Id without angle brackets, or "" when unset.
func (m *Message) MessageID() string {
	id, err := m.header.MessageID()
	if err != nil {
		raw := strings.TrimSpace(m.header.Get("Message-Id"))
		return strings.Trim(raw, "<>")
	}
	return id
}

// SetMessageID sets the transport identifier and invalidates the unique id.
func (m *Message) SetMessageID(id string) {
	m.header.SetMessageID(id)
	m.invalidate()
}

// EnsureMessageID generates a Message-Id when the message has none. Once
// assigned it is never changed by the pipeline.
func (m *Message) EnsureMessageID() (string, error) {
	if id := m.MessageID(); id != "" {
		return id, nil
	}
	if err := m.header.GenerateMessageID(); err != nil {
		return "", fmt.Errorf("message: generate message id: %w", err)
	}
	m.invalidate()
	return m.MessageID(), nil
}

// From returns the first From address, or nil.
func (m *Message) From() *mail.Address {
	addrs, err := m.header.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return nil
	}
	return addrs[0]
}

// SetFrom sets the From header.
func (m *Message) SetFrom(addr *mail.Address) {
	m.header.SetAddressList("From", []*mail.Address{addr})
}

// To returns the To address list. A malformed header yields nil.
func (m *Message) To() []*mail.Address {
	addrs, err := m.header.AddressList("To")
	if err != nil {
		return nil
	}
	return addrs
}

// SetTo replaces the To header and invalidates the unique id.
func (m *Message) SetTo(addrs ...*mail.Address) {
	m.header.SetAddressList("To", addrs)
	m.invalidate()
}

// SetCc replaces the Cc header.
func (m *Message) SetCc(addrs ...*mail.Address) {
	m.header.SetAddressList("Cc", addrs)
}

// SetBcc replaces the Bcc header. Bcc is stripped by WriteTo.
func (m *Message) SetBcc(addrs ...*mail.Address) {
	m.header.SetAddressList("Bcc", addrs)
}

// AddBcc appends to the Bcc header.
func (m *Message) AddBcc(addrs ...*mail.Address) {
	existing, _ := m.header.AddressList("Bcc")
	m.header.SetAddressList("Bcc", append(existing, addrs...))
}

// Recipients returns the envelope recipients (To, Cc and Bcc addresses).
func (m *Message) Recipients() []string {
	var rcpts []string
	for _, key := range []string{"To", "Cc", "Bcc"} {
		addrs, err := m.header.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			rcpts = append(rcpts, a.Address)
		}
	}
	return rcpts
}

// Subject returns the decoded subject.
func (m *Message) Subject() string {
	s, err := m.header.Subject()
	if err != nil {
		return m.header.Get("Subject")
	}
	return s
}

// SetSubject sets the subject, encoding it when needed.
func (m *Message) SetSubject(s string) {
	m.header.SetSubject(s)
}

// Type returns the mail type label.
func (m *Message) Type() string {
	return m.header.Get(TypeHeader)
}

// SetType sets the mail type label.
func (m *Message) SetType(t string) {
	if t == "" {
		m.header.Del(TypeHeader)
		return
	}
	m.header.Set(TypeHeader, t)
}

// Header returns the value of a header field.
func (m *Message) Header(key string) string {
	return m.header.Get(key)
}

// SetHeader sets a raw header field. Setting Message-Id or To invalidates the
// unique id.
func (m *Message) SetHeader(key, value string) {
	m.header.Set(key, value)
	if strings.EqualFold(key, "Message-Id") || strings.EqualFold(key, "To") {
		m.invalidate()
	}
}

// Body returns the raw body bytes (everything after the header block).
func (m *Message) Body() []byte {
	return m.body
}

// SetBody replaces the raw body.
func (m *Message) SetBody(body []byte) {
	m.body = body
}

// SetTextBody sets a single-part text/plain UTF-8 body.
func (m *Message) SetTextBody(text string) {
	m.header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	m.body = []byte(text)
}

// SetHTMLBody sets a single-part text/html UTF-8 body.
func (m *Message) SetHTMLBody(html string) {
	m.header.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	m.body = []byte(html)
}

// WriteTo writes the message in wire format. Bcc is omitted.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	h := m.header.Header.Header.Copy()
	h.Del("Bcc")
	if !h.Has("Mime-Version") {
		h.Set("Mime-Version", "1.0")
	}
	cw := &countingWriter{w: w}
	if err := textproto.WriteHeader(cw, h); err != nil {
		return cw.n, fmt.Errorf("message: write header: %w", err)
	}
	if _, err := cw.Write(m.body); err != nil {
		return cw.n, fmt.Errorf("message: write body: %w", err)
	}
	return cw.n, nil
}

// Bytes serializes the message including the Bcc header, so that a stored
// copy keeps every envelope recipient.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, m.header.Header.Header); err != nil {
		return nil, fmt.Errorf("message: write header: %w", err)
	}
	buf.Write(m.body)
	return buf.Bytes(), nil
}

func (m *Message) invalidate() {
	m.uniqueID = ""
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
