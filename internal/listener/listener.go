// Package listener defines the pipeline event interface and its
// implementations: the ledger-backed Memory listener, the fault-isolating
// Composite, and logging and metrics observers.
package listener

import (
	"context"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/message"
)

// Listener observes one batch travelling through the pipeline. Methods are
// called from worker goroutines and must be safe for concurrent use.
type Listener interface {
	OnPrepareBegin(ctx context.Context, batchID string)
	OnPrepareMessageSuccess(ctx context.Context, batchID string, m *message.Message)
	// OnPrepareMessageError receives a nil message when the build itself
	// failed.
	OnPrepareMessageError(ctx context.Context, batchID string, m *message.Message, err error)
	OnPrepareFatalError(ctx context.Context, batchID string, err error)
	// OnPrepareEnd publishes the number of messages of the batch.
	OnPrepareEnd(ctx context.Context, batchID string, total int64)

	OnSendMessageSuccess(ctx context.Context, batchID string, m *message.Message)
	OnSendMessageError(ctx context.Context, batchID string, m *message.Message, err error)
	// OnSendMessageFatalError is fired when the message could not be loaded,
	// so only its unique id is known.
	OnSendMessageFatalError(ctx context.Context, batchID, uniqueID string, err error)

	StatusResult() ledger.Result
}

// Nop ignores every event. Embed it to implement only the events of
// interest.
type Nop struct{}

var _ Listener = Nop{}

func (Nop) OnPrepareBegin(context.Context, string)                                 {}
func (Nop) OnPrepareMessageSuccess(context.Context, string, *message.Message)      {}
func (Nop) OnPrepareMessageError(context.Context, string, *message.Message, error) {}
func (Nop) OnPrepareFatalError(context.Context, string, error)                     {}
func (Nop) OnPrepareEnd(context.Context, string, int64)                            {}
func (Nop) OnSendMessageSuccess(context.Context, string, *message.Message)         {}
func (Nop) OnSendMessageError(context.Context, string, *message.Message, error)    {}
func (Nop) OnSendMessageFatalError(context.Context, string, string, error)         {}
func (Nop) StatusResult() ledger.Result                                            { return ledger.EmptyResult{} }
