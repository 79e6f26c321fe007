package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/message"
	"github.com/sungwon/mailbatch/internal/metrics"
	"github.com/sungwon/mailbatch/internal/msgstore"
	"github.com/sungwon/mailbatch/internal/transport"
)

// sendItem references a saved message by id only; the body is always read
// back from the content store.
type sendItem struct {
	batch    *batchState
	uniqueID string
}

// SendStage loads saved messages and hands them to the transport.
type SendStage struct {
	queue     chan sendItem
	workers   int
	delay     time.Duration
	backoff   []time.Duration
	store     *msgstore.ContentStore
	transport transport.Transport
	inflight  *inflight
	log       zerolog.Logger
	wg        sync.WaitGroup
}

func newSendStage(cfg Config, store *msgstore.ContentStore, tr transport.Transport, fl *inflight, log zerolog.Logger) *SendStage {
	return &SendStage{
		inflight:  fl,
		queue:     make(chan sendItem, cfg.SendQueueSize),
		workers:   cfg.SendWorkers,
		delay:     cfg.SendDelay,
		backoff:   cfg.LoadRetryBackoff,
		store:     store,
		transport: tr,
		log:       log.With().Str("stage", "send").Logger(),
	}
}

func (s *SendStage) start(ctx context.Context) {
	for i := range s.workers {
		s.wg.Add(1)
		go s.runWorker(ctx, fmt.Sprintf("send-%d", i))
	}
}

// enqueue blocks while the send queue is full.
func (s *SendStage) enqueue(ctx context.Context, item sendItem) error {
	select {
	case s.queue <- item:
		metrics.QueueDepth.WithLabelValues("send").Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SendStage) runWorker(ctx context.Context, name string) {
	defer s.wg.Done()
	s.log.Debug().Str("worker", name).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Str("worker", name).Msg("worker stopping")
			return
		case item := <-s.queue:
			metrics.QueueDepth.WithLabelValues("send").Dec()
			s.pace(ctx)
			s.process(item)
		}
	}
}

// pace waits the configured inter-send delay. Each worker paces itself.
func (s *SendStage) pace(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process runs a taken item to a terminal state. It is not interrupted by
// a controller stop. The id leaves the in-flight set before its outcome is
// reported, and a sent message's content is deleted before that, so a
// caller that saw the outcome never finds the id pending and unowned.
func (s *SendStage) process(item sendItem) {
	b := item.batch
	defer b.sent()

	ctx, span := tracer.Start(b.ctx, "pipeline.send", trace.WithAttributes(
		attribute.String("batch_id", b.id),
		attribute.String("unique_id", item.uniqueID),
	))
	defer span.End()

	m, err := s.loadWithRetry(ctx, b.id, item.uniqueID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		s.inflight.done(b.id, item.uniqueID)
		b.listener.OnSendMessageFatalError(ctx, b.id, item.uniqueID, err)
		return
	}

	start := time.Now()
	err = safeSend(ctx, s.transport, m)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		span.SetAttributes(attribute.String("failure", string(listener.FailureOf(err))))
		s.inflight.done(b.id, item.uniqueID)
		b.listener.OnSendMessageError(ctx, b.id, m, err)
		return
	}

	if err := s.store.Delete(ctx, b.id, item.uniqueID); err != nil {
		s.log.Warn().Err(err).
			Str("batch_id", b.id).
			Str("unique_id", item.uniqueID).
			Msg("failed to delete sent message content")
	}
	s.inflight.done(b.id, item.uniqueID)
	b.listener.OnSendMessageSuccess(ctx, b.id, m)
}

// loadWithRetry reads the message back, retrying on the backoff schedule.
// A missing entry is not retried.
func (s *SendStage) loadWithRetry(ctx context.Context, batchID, uniqueID string) (*message.Message, error) {
	m, err := s.store.Load(ctx, batchID, uniqueID)
	for attempt, delay := range s.backoff {
		if err == nil || errors.Is(err, msgstore.ErrNotFound) {
			break
		}
		s.log.Warn().Err(err).
			Str("batch_id", batchID).
			Str("unique_id", uniqueID).
			Int("attempt", attempt+1).
			Int("max_attempts", len(s.backoff)+1).
			Msg("content load failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		m, err = s.store.Load(ctx, batchID, uniqueID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", batchID, uniqueID, err)
	}
	return m, nil
}

func safeSend(ctx context.Context, tr transport.Transport, m *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: transport panic: %v", r)
		}
	}()
	return tr.Send(ctx, m)
}
