package ledger

import (
	"encoding/json"
	"errors"
	"iter"
	"time"
)

// ErrWaitTimeout is returned by WaitTillProcessed when the timeout elapses
// before every message reached a terminal state.
var ErrWaitTimeout = errors.New("ledger: timed out waiting for batch")

// Result is the read-only view of a batch handed to callers. It is safe for
// concurrent use.
type Result interface {
	// TotalMailCount returns -1 until the prepare phase has ended.
	TotalMailCount() int64
	ProcessedMailCount() int64
	IsProcessed() bool
	// WaitTillProcessed blocks until IsProcessed or the timeout elapses.
	WaitTillProcessed(timeout time.Duration) error
	// All yields the latest status of every message. Each call iterates a
	// fresh snapshot.
	All() iter.Seq[Status]
	AllErrors() iter.Seq[Status]
	ByState(state State) iter.Seq[Status]
	// PrepareFatalError returns the systemic error that aborted the prepare
	// phase, or nil.
	PrepareFatalError() error
}

// EmptyResult is the result of a batch with no messages. It is processed
// from the start and has nothing to wait for.
type EmptyResult struct{}

var _ Result = EmptyResult{}

func (EmptyResult) TotalMailCount() int64     { return 0 }
func (EmptyResult) ProcessedMailCount() int64 { return 0 }
func (EmptyResult) IsProcessed() bool         { return true }

// WaitTillProcessed always returns errors.ErrUnsupported.
func (EmptyResult) WaitTillProcessed(time.Duration) error { return errors.ErrUnsupported }

func (EmptyResult) All() iter.Seq[Status]          { return func(func(Status) bool) {} }
func (EmptyResult) AllErrors() iter.Seq[Status]    { return func(func(Status) bool) {} }
func (EmptyResult) ByState(State) iter.Seq[Status] { return func(func(Status) bool) {} }
func (EmptyResult) PrepareFatalError() error       { return nil }

// Collect drains a status sequence into a slice.
func Collect(seq iter.Seq[Status]) []Status {
	var out []Status
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// errorReport is the serialized form of one failed message.
type errorReport struct {
	UniqueID         string   `json:"unique_id,omitempty"`
	MessageID        string   `json:"message_id,omitempty"`
	State            State    `json:"state"`
	Date             string   `json:"date"`
	Recipients       []string `json:"recipients,omitempty"`
	Type             string   `json:"type,omitempty"`
	ErrorSummary     string   `json:"error_summary,omitempty"`
	ErrorDescription string   `json:"error_description,omitempty"`
	Failure          Failure  `json:"failure,omitempty"`
}

// SerializeErrors renders the failed messages of r as a JSON array, for
// reporting back to whoever started the batch. A fatal prepare error is
// reported as an extra entry with state prepare_error and no message id.
func SerializeErrors(r Result) ([]byte, error) {
	reports := []errorReport{}
	for s := range r.AllErrors() {
		reports = append(reports, errorReport{
			UniqueID:         s.UniqueID,
			MessageID:        s.MessageID,
			State:            s.State,
			Date:             s.Date.UTC().Format(time.RFC3339),
			Recipients:       s.Recipients,
			Type:             s.Type,
			ErrorSummary:     s.ErrorSummary,
			ErrorDescription: s.ErrorDescription,
			Failure:          s.Failure,
		})
	}
	if err := r.PrepareFatalError(); err != nil {
		var fatal Status
		fatal.SetError(err)
		reports = append(reports, errorReport{
			State:            PrepareError,
			Date:             time.Now().UTC().Format(time.RFC3339),
			ErrorSummary:     fatal.ErrorSummary,
			ErrorDescription: fatal.ErrorDescription,
		})
	}
	return json.Marshal(reports)
}
