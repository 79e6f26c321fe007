package api

import (
	"context"
	"errors"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/pipeline"
)

// mockPipeline is a hand-written Pipeline whose behavior is set per test.
type mockPipeline struct {
	submitFn  func(ctx context.Context, b pipeline.Batch) (ledger.Result, error)
	resendFn  func(ctx context.Context, batchID string, ids []string) (ledger.Result, error)
	pendingFn func(ctx context.Context, batchID string) ([]string, error)
}

func (m *mockPipeline) Submit(ctx context.Context, b pipeline.Batch, _ listener.Listener) (ledger.Result, error) {
	if m.submitFn == nil {
		return nil, errors.New("submit not mocked")
	}
	return m.submitFn(ctx, b)
}

func (m *mockPipeline) Resend(ctx context.Context, batchID string, ids []string, _ listener.Listener) (ledger.Result, error) {
	if m.resendFn == nil {
		return nil, errors.New("resend not mocked")
	}
	return m.resendFn(ctx, batchID, ids)
}

func (m *mockPipeline) Pending(ctx context.Context, batchID string) ([]string, error) {
	if m.pendingFn == nil {
		return nil, errors.New("pending not mocked")
	}
	return m.pendingFn(ctx, batchID)
}

// mockQuery records the arguments of the last ListStatuses call.
type mockQuery struct {
	statuses  []ledger.Status
	err       error
	lastBatch string
	lastState ledger.State
}

func (m *mockQuery) ListStatuses(_ context.Context, batchID string, state ledger.State) ([]ledger.Status, error) {
	m.lastBatch, m.lastState = batchID, state
	return m.statuses, m.err
}

// finishedLedger returns a ledger of a processed batch holding rows.
func finishedLedger(batchID string, rows ...ledger.Status) *ledger.Ledger {
	l := ledger.New(batchID)
	for _, r := range rows {
		l.Record(context.Background(), r)
	}
	l.SetTotal(int64(len(rows)))
	return l
}
