// Package ledger keeps the per-message status of a batch and exposes it as a
// read-only Result.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Persister stores status rows outside the process so they can be queried
// after the in-memory ledger is gone.
type Persister interface {
	SaveStatus(ctx context.Context, s Status) error
}

// Query reads persisted status rows. An empty state matches every state.
type Query interface {
	ListStatuses(ctx context.Context, batchID string, state State) ([]Status, error)
}

// Ledger is the status table of one batch. Writers append through Record;
// readers take snapshots. All methods are safe for concurrent use.
type Ledger struct {
	batchID   string
	createdAt time.Time

	mu      sync.RWMutex
	history []Status       // append-only
	latest  map[string]int // message key -> index into history
	order   []string       // message keys in first-seen order
	fatal   error

	total     atomic.Int64
	processed atomic.Int64
	done      chan struct{}
	doneOnce  sync.Once

	persister Persister
	logger    zerolog.Logger
}

var _ Result = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithPersister writes every recorded row through p. Persist failures are
// logged and never fail the pipeline.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persister = p }
}

// WithLogger sets the logger used for persist failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates an empty ledger whose total is unknown (-1).
func New(batchID string, opts ...Option) *Ledger {
	l := &Ledger{
		batchID:   batchID,
		createdAt: time.Now(),
		latest:    make(map[string]int),
		done:      make(chan struct{}),
		logger:    zerolog.Nop(),
	}
	l.total.Store(-1)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) BatchID() string { return l.batchID }

// CreatedAt is when the batch began.
func (l *Ledger) CreatedAt() time.Time { return l.createdAt }

// Record appends s. The batch id and date are filled in when missing. A
// message moving into a terminal state for the first time counts as
// processed.
func (l *Ledger) Record(ctx context.Context, s Status) {
	if s.BatchID == "" {
		s.BatchID = l.batchID
	}
	if s.Date.IsZero() {
		s.Date = time.Now()
	}

	l.mu.Lock()
	key := s.UniqueID
	if key == "" {
		key = fmt.Sprintf("#%d", len(l.history))
	}
	wasTerminal := false
	if idx, ok := l.latest[key]; ok {
		wasTerminal = l.history[idx].State.Terminal()
	} else {
		l.order = append(l.order, key)
	}
	l.history = append(l.history, s)
	l.latest[key] = len(l.history) - 1
	l.mu.Unlock()

	if s.State.Terminal() && !wasTerminal {
		l.processed.Add(1)
	}

	if l.persister != nil {
		if err := l.persister.SaveStatus(ctx, s); err != nil {
			l.logger.Error().Err(err).
				Str("batch_id", s.BatchID).
				Str("unique_id", s.UniqueID).
				Str("state", string(s.State)).
				Msg("failed to persist mail status")
		}
	}

	l.checkDone()
}

// SetTotal fixes the number of messages of the batch. Called once, when the
// prepare phase ends.
func (l *Ledger) SetTotal(n int64) {
	l.total.Store(n)
	l.checkDone()
}

// SetPrepareFatalError records the systemic error that aborted preparation.
// Only the first error is kept.
func (l *Ledger) SetPrepareFatalError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fatal == nil {
		l.fatal = err
	}
}

func (l *Ledger) PrepareFatalError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fatal
}

func (l *Ledger) checkDone() {
	if l.IsProcessed() {
		l.doneOnce.Do(func() { close(l.done) })
	}
}

func (l *Ledger) TotalMailCount() int64     { return l.total.Load() }
func (l *Ledger) ProcessedMailCount() int64 { return l.processed.Load() }

func (l *Ledger) IsProcessed() bool {
	total := l.total.Load()
	return total >= 0 && l.processed.Load() >= total
}

// WaitTillProcessed blocks until the batch is processed or timeout elapses.
// A non-positive timeout only checks the current state.
func (l *Ledger) WaitTillProcessed(timeout time.Duration) error {
	if timeout <= 0 {
		if l.IsProcessed() {
			return nil
		}
		return ErrWaitTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrWaitTimeout
		}
		return err
	}
	return nil
}

// Wait blocks until the batch is processed or ctx ends.
func (l *Ledger) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) All() iter.Seq[Status] {
	return l.filter(func(Status) bool { return true })
}

func (l *Ledger) AllErrors() iter.Seq[Status] {
	return l.filter(func(s Status) bool { return s.State.IsError() })
}

func (l *Ledger) ByState(state State) iter.Seq[Status] {
	return l.filter(func(s Status) bool { return s.State == state })
}

// filter snapshots the latest rows when the sequence is iterated, so every
// range over the returned sequence sees the ledger as of that moment.
func (l *Ledger) filter(keep func(Status) bool) iter.Seq[Status] {
	return func(yield func(Status) bool) {
		l.mu.RLock()
		snap := make([]Status, 0, len(l.order))
		for _, key := range l.order {
			if s := l.history[l.latest[key]]; keep(s) {
				snap = append(snap, s)
			}
		}
		l.mu.RUnlock()

		for _, s := range snap {
			if !yield(s) {
				return
			}
		}
	}
}
