package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the outcome recorded for a message at one pipeline stage.
type State string

const (
	PrepareSuccess State = "prepare_success"
	PrepareError   State = "prepare_error"
	SendSuccess    State = "send_success"
	SendError      State = "send_error"
	SendFatalError State = "send_fatal_error"
)

// States lists every state in pipeline order.
var States = []State{PrepareSuccess, PrepareError, SendSuccess, SendError, SendFatalError}

// ParseState validates a state name. Matching is case-insensitive so that
// "SEND_ERROR" and "send_error" are equivalent.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range States {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("ledger: unknown state %q", s)
}

// Terminal reports whether no further transition follows this state for the
// message.
func (s State) Terminal() bool {
	return s != PrepareSuccess
}

// IsError reports whether the state is one of the failure states.
func (s State) IsError() bool {
	return s == PrepareError || s == SendError || s == SendFatalError
}

// Failure tells why a send failed. It is empty for every other state.
type Failure string

const (
	// FailureRejected means the message was refused and will be refused
	// again, usually by a 5xx reply.
	FailureRejected Failure = "rejected"
	// FailureDeferred means the remote server refused the message for now.
	FailureDeferred Failure = "deferred"
	// FailureUnavailable means the remote side was never reached or the
	// conversation broke down.
	FailureUnavailable Failure = "unavailable"
)

// Retryable reports whether resending can succeed.
func (f Failure) Retryable() bool {
	return f != FailureRejected
}

// Status is one immutable ledger row.
type Status struct {
	// UniqueID is the content-derived message id. Empty for a message whose
	// build failed before an id could be computed.
	UniqueID string `json:"unique_id,omitempty"`
	// MessageID is the transport Message-Id header, when known.
	MessageID        string    `json:"message_id,omitempty"`
	BatchID          string    `json:"batch_id"`
	State            State     `json:"state"`
	Date             time.Time `json:"date"`
	Recipients       []string  `json:"recipients,omitempty"`
	Type             string    `json:"type,omitempty"`
	StoreRef         string    `json:"store_ref,omitempty"`
	ErrorSummary     string    `json:"error_summary,omitempty"`
	ErrorDescription string    `json:"error_description,omitempty"`
	Failure          Failure   `json:"failure,omitempty"`
}

const maxSummaryLen = 255

// SetError fills the error columns from err. The summary is the first line
// of the message, the description every wrapped layer of the chain.
func (s *Status) SetError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	summary, _, _ := strings.Cut(msg, "\n")
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}
	s.ErrorSummary = summary

	var b strings.Builder
	b.WriteString(msg)
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		fmt.Fprintf(&b, "\ncaused by: %T: %s", cur, cur.Error())
	}
	s.ErrorDescription = b.String()
}
