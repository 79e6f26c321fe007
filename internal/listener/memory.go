package listener

import (
	"context"
	"sync"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/message"
	"github.com/sungwon/mailbatch/internal/msgstore"
)

// Memory records every event in a ledger and exposes it as the batch
// result. Use one Memory per batch.
type Memory struct {
	opts []ledger.Option

	mu     sync.RWMutex
	ledger *ledger.Ledger
}

var _ Listener = (*Memory)(nil)

// NewMemory returns a listener whose ledger is created, with opts, when the
// batch begins.
func NewMemory(opts ...ledger.Option) *Memory {
	return &Memory{opts: opts}
}

// Ledger returns the underlying ledger, or nil before OnPrepareBegin.
func (l *Memory) Ledger() *ledger.Ledger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ledger
}

// StatusResult returns an EmptyResult until the batch has begun.
func (l *Memory) StatusResult() ledger.Result {
	if lg := l.Ledger(); lg != nil {
		return lg
	}
	return ledger.EmptyResult{}
}

func (l *Memory) OnPrepareBegin(_ context.Context, batchID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ledger == nil {
		l.ledger = ledger.New(batchID, l.opts...)
	}
}

func (l *Memory) OnPrepareMessageSuccess(ctx context.Context, batchID string, m *message.Message) {
	l.record(ctx, statusOf(batchID, m, ledger.PrepareSuccess, nil))
}

func (l *Memory) OnPrepareMessageError(ctx context.Context, batchID string, m *message.Message, err error) {
	l.record(ctx, statusOf(batchID, m, ledger.PrepareError, err))
}

func (l *Memory) OnPrepareFatalError(_ context.Context, _ string, err error) {
	if lg := l.Ledger(); lg != nil {
		lg.SetPrepareFatalError(err)
	}
}

func (l *Memory) OnPrepareEnd(_ context.Context, _ string, total int64) {
	if lg := l.Ledger(); lg != nil {
		lg.SetTotal(total)
	}
}

func (l *Memory) OnSendMessageSuccess(ctx context.Context, batchID string, m *message.Message) {
	l.record(ctx, statusOf(batchID, m, ledger.SendSuccess, nil))
}

func (l *Memory) OnSendMessageError(ctx context.Context, batchID string, m *message.Message, err error) {
	s := statusOf(batchID, m, ledger.SendError, err)
	s.Failure = FailureOf(err)
	l.record(ctx, s)
}

func (l *Memory) OnSendMessageFatalError(ctx context.Context, batchID, uniqueID string, err error) {
	s := ledger.Status{
		UniqueID: uniqueID,
		BatchID:  batchID,
		State:    ledger.SendFatalError,
		StoreRef: msgstore.Key(batchID, uniqueID),
	}
	s.SetError(err)
	l.record(ctx, s)
}

func (l *Memory) record(ctx context.Context, s ledger.Status) {
	if lg := l.Ledger(); lg != nil {
		lg.Record(ctx, s)
	}
}

// statusOf builds a ledger row from a message. m may be nil for a failed
// build.
func statusOf(batchID string, m *message.Message, state ledger.State, err error) ledger.Status {
	s := ledger.Status{BatchID: batchID, State: state}
	if m != nil {
		s.UniqueID = m.UniqueID()
		s.MessageID = m.MessageID()
		s.Recipients = m.Recipients()
		s.Type = m.Type()
		if s.UniqueID != "" {
			s.StoreRef = msgstore.Key(batchID, s.UniqueID)
		}
	}
	s.SetError(err)
	return s
}
