package api

import (
	"errors"
	"fmt"

	"github.com/emersion/go-message/mail"

	"github.com/sungwon/mailbatch/internal/message"
)

// batchRequest is the JSON body of POST /batches.
type batchRequest struct {
	Principal string           `json:"principal"`
	Type      string           `json:"type"`
	Messages  []messageRequest `json:"messages"`
}

// messageRequest describes one message. Address problems are not rejected
// up front: they surface as a prepare_error of that message only.
type messageRequest struct {
	MessageID string            `json:"message_id,omitempty"`
	From      string            `json:"from,omitempty"`
	To        []string          `json:"to,omitempty"`
	Cc        []string          `json:"cc,omitempty"`
	Bcc       []string          `json:"bcc,omitempty"`
	Subject   string            `json:"subject"`
	Text      string            `json:"text,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

const maxMessagesPerBatch = 10000

func (req batchRequest) validate() []string {
	var details []string
	switch {
	case len(req.Messages) == 0:
		details = append(details, "messages: at least one message is required")
	case len(req.Messages) > maxMessagesPerBatch:
		details = append(details, fmt.Sprintf("messages: at most %d messages per batch", maxMessagesPerBatch))
	}
	return details
}

func (req messageRequest) build(defaultFrom string) (*message.Message, error) {
	sender := req.From
	if sender == "" {
		sender = defaultFrom
	}
	if sender == "" {
		return nil, errors.New("message has no sender")
	}
	from, err := mail.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("invalid from %q: %w", sender, err)
	}

	to, err := parseAddresses("to", req.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseAddresses("cc", req.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddresses("bcc", req.Bcc)
	if err != nil {
		return nil, err
	}
	if len(to)+len(cc)+len(bcc) == 0 {
		return nil, errors.New("message has no recipients")
	}

	m := message.New()
	if req.MessageID != "" {
		m.SetMessageID(req.MessageID)
	}
	m.SetFrom(from)
	if len(to) > 0 {
		m.SetTo(to...)
	}
	if len(cc) > 0 {
		m.SetCc(cc...)
	}
	if len(bcc) > 0 {
		m.SetBcc(bcc...)
	}
	m.SetSubject(req.Subject)
	for k, v := range req.Headers {
		m.SetHeader(k, v)
	}
	if req.HTML != "" {
		m.SetHTMLBody(req.HTML)
	} else {
		m.SetTextBody(req.Text)
	}
	return m, nil
}

func parseAddresses(field string, raw []string) ([]*mail.Address, error) {
	addrs := make([]*mail.Address, 0, len(raw))
	for _, s := range raw {
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s address %q: %w", field, s, err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
