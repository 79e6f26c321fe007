package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/metrics"
)

// batchState tracks one batch across both stages. The prepare phase ends
// once intake is closed and no build request is outstanding; the batch is
// finished when, in addition, no send is outstanding.
type batchState struct {
	id        string
	principal string
	mailType  string
	listener  listener.Listener
	// ctx carries the batch id into logs and spans. It is detached from the
	// submitter's cancellation.
	ctx context.Context
	// onFinish runs once when the batch finishes, outside the lock.
	onFinish func()

	mu      sync.Mutex
	seen    map[string]struct{}
	closed  bool
	pending int   // queued or running build requests
	sending int   // ids handed to the send stage and not yet terminal
	total   int64 // messages accepted by prepare
	ended   bool
	done    bool

	aborted atomic.Bool
}

func newBatchState(ctx context.Context, id, principal, mailType string, l listener.Listener) *batchState {
	metrics.ActiveBatches.Inc()
	return &batchState{
		id:        id,
		principal: principal,
		mailType:  mailType,
		listener:  l,
		ctx:       ctx,
		seen:      make(map[string]struct{}),
	}
}

// addPending registers a build request about to be queued.
func (b *batchState) addPending() {
	b.mu.Lock()
	b.pending++
	b.mu.Unlock()
}

// claim marks uniqueID as seen. It reports false for a duplicate.
func (b *batchState) claim(uniqueID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[uniqueID]; dup {
		return false
	}
	b.seen[uniqueID] = struct{}{}
	return true
}

// prepared finishes one build request. accepted counts it toward the
// total.
func (b *batchState) prepared(accepted bool) {
	b.mu.Lock()
	b.pending--
	if accepted {
		b.total++
	}
	b.mu.Unlock()
	b.advance()
}

// handoff registers an id about to enter the send stage. It must be called
// before the id is queued so the batch cannot finish underneath it.
func (b *batchState) handoff() {
	b.mu.Lock()
	b.sending++
	b.mu.Unlock()
}

// forward registers n ids handed to the send stage without a prepare
// phase. They count toward the total.
func (b *batchState) forward(n int) {
	b.mu.Lock()
	b.sending += n
	b.total += int64(n)
	b.mu.Unlock()
}

// sent finishes one id of the send stage, or one that never got queued.
func (b *batchState) sent() {
	b.mu.Lock()
	b.sending--
	b.mu.Unlock()
	b.advance()
}

// close stops intake. The prepare end event fires once nothing is pending.
func (b *batchState) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.advance()
}

// advance fires the prepare end event and the finished bookkeeping exactly
// once each. Listener calls happen outside the lock.
func (b *batchState) advance() {
	b.mu.Lock()
	fireEnd := b.closed && b.pending == 0 && !b.ended
	if fireEnd {
		b.ended = true
	}
	total := b.total
	finish := b.ended && b.sending == 0 && !b.done
	if finish {
		b.done = true
	}
	b.mu.Unlock()

	if fireEnd {
		b.listener.OnPrepareEnd(b.ctx, b.id, total)
	}
	if finish {
		metrics.ActiveBatches.Dec()
		if b.onFinish != nil {
			b.onFinish()
		}
	}
}

// abandon finishes a batch that can no longer make progress. It reports
// false when the batch had already finished.
func (b *batchState) abandon() bool {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return false
	}
	b.done = true
	b.mu.Unlock()

	metrics.ActiveBatches.Dec()
	return true
}

// abort reports the fatal prepare error once and stops further builds.
func (b *batchState) abort(err error) {
	if b.aborted.CompareAndSwap(false, true) {
		b.listener.OnPrepareFatalError(b.ctx, b.id, err)
	}
}
