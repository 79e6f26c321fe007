// Package pipeline runs batches of outgoing mail through two bounded worker
// pools: a prepare stage that builds and saves messages and a send stage
// that delivers them.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/logger"
	"github.com/sungwon/mailbatch/internal/msgstore"
	"github.com/sungwon/mailbatch/internal/transport"
)

var tracer = otel.Tracer("github.com/sungwon/mailbatch/internal/pipeline")

// Config sizes the two stages.
type Config struct {
	PrepareQueueSize int
	SendQueueSize    int
	PrepareWorkers   int
	SendWorkers      int
	// SendDelay is waited by each send worker before every send.
	SendDelay time.Duration
	// LoadRetryBackoff are the waits between content load attempts.
	LoadRetryBackoff []time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns the zero-configuration settings.
func DefaultConfig() Config {
	return Config{
		PrepareQueueSize: 1000,
		SendQueueSize:    1000,
		PrepareWorkers:   1,
		SendWorkers:      1,
		LoadRetryBackoff: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
		ShutdownTimeout:  30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PrepareQueueSize < 1 {
		c.PrepareQueueSize = d.PrepareQueueSize
	}
	if c.SendQueueSize < 1 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.PrepareWorkers < 1 {
		c.PrepareWorkers = d.PrepareWorkers
	}
	if c.SendWorkers < 1 {
		c.SendWorkers = d.SendWorkers
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithListeners adds auxiliary listeners to every batch.
func WithListeners(l ...listener.Listener) Option {
	return func(c *Controller) { c.aux = append(c.aux, l...) }
}

// WithLedgerOptions configures the ledger of batches submitted without a
// caller supplied listener.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(c *Controller) { c.ledgerOpts = append(c.ledgerOpts, opts...) }
}

// Controller accepts batches and wires the prepare stage into the send
// stage.
type Controller struct {
	cfg        Config
	store      *msgstore.ContentStore
	prepare    *PrepareStage
	send       *SendStage
	inflight   *inflight
	aux        []listener.Listener
	ledgerOpts []ledger.Option
	log        zerolog.Logger

	mu   sync.Mutex
	live map[*batchState]struct{}

	stopCtx context.Context
	cancel  context.CancelFunc
	started atomic.Bool
}

// New creates a controller. Call Start before submitting work.
func New(cfg Config, store *msgstore.ContentStore, tr transport.Transport, log zerolog.Logger, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:      cfg,
		store:    store,
		inflight: newInflight(),
		log:      log,
		live:     make(map[*batchState]struct{}),
	}
	c.send = newSendStage(cfg, store, tr, c.inflight, log)
	c.prepare = newPrepareStage(cfg, store, c.send, log)
	c.stopCtx, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the worker pools. Workers stop when ctx ends or Stop is
// called.
func (c *Controller) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	context.AfterFunc(ctx, c.cancel)

	c.prepare.start(c.stopCtx)
	c.send.start(c.stopCtx)

	c.log.Info().
		Int("prepare_workers", c.cfg.PrepareWorkers).
		Int("send_workers", c.cfg.SendWorkers).
		Int("prepare_queue_size", c.cfg.PrepareQueueSize).
		Int("send_queue_size", c.cfg.SendQueueSize).
		Dur("send_delay", c.cfg.SendDelay).
		Msg("pipeline started")
}

// Stop refuses new work and waits, up to the shutdown timeout or ctx, for
// running workers to finish their current item. Queued items are dropped;
// their content stays in the store. Batches left unfinished are abandoned:
// their results never become processed.
func (c *Controller) Stop(ctx context.Context) {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.prepare.wg.Wait()
		c.send.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		c.log.Info().Msg("pipeline stopped gracefully")
	case <-timer.C:
		c.log.Warn().Msg("pipeline shutdown timed out")
	case <-ctx.Done():
		c.log.Warn().Msg("pipeline shutdown interrupted")
	}

	c.mu.Lock()
	unfinished := make([]*batchState, 0, len(c.live))
	for b := range c.live {
		unfinished = append(unfinished, b)
	}
	clear(c.live)
	c.mu.Unlock()

	for _, b := range unfinished {
		if b.abandon() {
			c.log.Warn().Str("batch_id", b.id).Msg("batch abandoned at shutdown")
		}
	}
}

func (c *Controller) stopped() bool {
	return c.stopCtx.Err() != nil
}

// Submit starts a batch and returns its live result once every builder has
// been queued. It blocks while the prepare queue is full. l becomes the
// main listener of the batch; when nil a ledger-backed listener is used.
//
// If ctx ends while queueing, the batch keeps the builders queued so far
// and the returned result tracks them; the error reports the interruption.
// A batch without builders returns an EmptyResult.
func (c *Controller) Submit(ctx context.Context, batch Batch, l listener.Listener) (ledger.Result, error) {
	if c.stopped() {
		return nil, ErrStopped
	}
	if len(batch.Builders) == 0 {
		return ledger.EmptyResult{}, nil
	}

	b := c.begin(uuid.NewString(), batch.Principal, batch.Type, l)
	var err error
	for _, builder := range batch.Builders {
		if b.aborted.Load() {
			break
		}
		b.addPending()
		if err = c.prepare.submit(ctx, c.stopCtx, prepareItem{batch: b, builder: builder}); err != nil {
			b.prepared(false)
			break
		}
	}
	b.close()

	if err != nil {
		c.log.Warn().Err(err).Str("batch_id", b.id).Msg("batch submission interrupted")
	}
	return b.listener.StatusResult(), err
}

// Resend queues saved messages of a batch straight into the send stage.
// Ids a worker still owns, because the batch that queued them has not
// reached their outcome, are skipped; ErrInFlight is returned when that
// leaves nothing to send. The returned result counts exactly the distinct
// ids queued. Ids whose content is gone end as send_fatal_error.
func (c *Controller) Resend(ctx context.Context, batchID string, uniqueIDs []string, l listener.Listener) (ledger.Result, error) {
	if c.stopped() {
		return nil, ErrStopped
	}
	if batchID == "" {
		return nil, errors.New("pipeline: resend needs a batch id")
	}

	ids := make([]string, 0, len(uniqueIDs))
	seen := make(map[string]struct{}, len(uniqueIDs))
	for _, id := range uniqueIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ledger.EmptyResult{}, nil
	}

	ids, busy := c.inflight.claim(batchID, ids)
	if len(busy) > 0 {
		c.log.Info().Str("batch_id", batchID).Int("in_flight", len(busy)).Msg("resend skips messages still in flight")
	}
	if len(ids) == 0 {
		return nil, ErrInFlight
	}

	b := c.begin(batchID, "", "", l)
	b.forward(len(ids))
	b.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.stopCtx, cancel)()

	var err error
	for i, id := range ids {
		if err = c.send.enqueue(ctx, sendItem{batch: b, uniqueID: id}); err != nil {
			if c.stopped() {
				err = ErrStopped
			}
			// The rest stays pending in the store.
			for _, id := range ids[i:] {
				c.inflight.done(batchID, id)
				b.sent()
			}
			c.log.Warn().Err(err).Str("batch_id", batchID).Int("not_queued", len(ids)-i).Msg("resend interrupted")
			break
		}
	}
	return b.listener.StatusResult(), err
}

// Pending lists the ids of a batch whose content is still stored: never
// sent, or failed to send.
func (c *Controller) Pending(ctx context.Context, batchID string) ([]string, error) {
	return c.store.Pending(ctx, batchID)
}

func (c *Controller) begin(batchID, principal, mailType string, main listener.Listener) *batchState {
	if main == nil {
		main = listener.NewMemory(c.ledgerOpts...)
	}
	l := listener.NewComposite(c.log, main, c.aux...)

	ctx := logger.WithLogger(context.Background(), c.log)
	ctx = logger.WithBatchID(ctx, batchID)
	b := newBatchState(ctx, batchID, principal, mailType, l)
	b.onFinish = func() { c.forget(b) }

	c.mu.Lock()
	c.live[b] = struct{}{}
	c.mu.Unlock()

	l.OnPrepareBegin(ctx, batchID)
	return b
}

func (c *Controller) forget(b *batchState) {
	c.mu.Lock()
	delete(c.live, b)
	c.mu.Unlock()
}
