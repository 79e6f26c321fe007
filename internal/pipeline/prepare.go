package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sungwon/mailbatch/internal/message"
	"github.com/sungwon/mailbatch/internal/metrics"
	"github.com/sungwon/mailbatch/internal/msgstore"
)

type prepareItem struct {
	batch   *batchState
	builder Builder
}

// PrepareStage builds messages, saves them to the content store and hands
// their ids to the send stage. Its queue is the admission point of the
// pipeline: Submit blocks while it is full.
type PrepareStage struct {
	queue   chan prepareItem
	workers int
	store   *msgstore.ContentStore
	send    *SendStage
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func newPrepareStage(cfg Config, store *msgstore.ContentStore, send *SendStage, log zerolog.Logger) *PrepareStage {
	return &PrepareStage{
		queue:   make(chan prepareItem, cfg.PrepareQueueSize),
		workers: cfg.PrepareWorkers,
		store:   store,
		send:    send,
		log:     log.With().Str("stage", "prepare").Logger(),
	}
}

func (p *PrepareStage) start(ctx context.Context) {
	for i := range p.workers {
		p.wg.Add(1)
		go p.runWorker(ctx, fmt.Sprintf("prepare-%d", i))
	}
}

// submit queues one build request, blocking while the queue is full.
func (p *PrepareStage) submit(ctx, stop context.Context, item prepareItem) error {
	select {
	case p.queue <- item:
		metrics.QueueDepth.WithLabelValues("prepare").Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop.Done():
		return ErrStopped
	}
}

func (p *PrepareStage) runWorker(ctx context.Context, name string) {
	defer p.wg.Done()
	p.log.Debug().Str("worker", name).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			p.log.Debug().Str("worker", name).Msg("worker stopping")
			return
		case item := <-p.queue:
			metrics.QueueDepth.WithLabelValues("prepare").Dec()
			p.process(ctx, name, item)
		}
	}
}

// process runs one build request to a ledger outcome. Nothing it does may
// escape as a panic.
func (p *PrepareStage) process(stop context.Context, worker string, item prepareItem) {
	b := item.batch
	if b.aborted.Load() {
		b.prepared(false)
		return
	}

	ctx, span := tracer.Start(b.ctx, "pipeline.prepare",
		trace.WithAttributes(attribute.String("batch_id", b.id)))
	defer span.End()

	m, err := safeBuild(ctx, item.builder, b.principal)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrFatal) {
			span.SetStatus(codes.Error, "fatal build error")
			b.abort(err)
			b.prepared(false)
			return
		}
		span.SetStatus(codes.Error, "build failed")
		b.listener.OnPrepareMessageError(ctx, b.id, m, err)
		b.prepared(true)
		return
	}
	if m.Type() == "" {
		m.SetType(b.mailType)
	}

	uid, err := message.UniqueID(m)
	if err != nil {
		span.RecordError(err)
		b.listener.OnPrepareMessageError(ctx, b.id, m, err)
		b.prepared(true)
		return
	}
	span.SetAttributes(attribute.String("unique_id", uid))

	if !b.claim(uid) {
		p.log.Debug().
			Str("batch_id", b.id).
			Str("unique_id", uid).
			Msg("duplicate message collapsed")
		b.prepared(false)
		return
	}

	p.send.inflight.add(b.id, uid)
	if err := p.store.Save(ctx, b.id, m); err != nil {
		p.send.inflight.done(b.id, uid)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		b.abort(fmt.Errorf("save %s: %w", uid, err))
		b.prepared(false)
		return
	}

	b.listener.OnPrepareMessageSuccess(ctx, b.id, m)

	b.handoff()
	if err := p.send.enqueue(stop, sendItem{batch: b, uniqueID: uid}); err != nil {
		// The content stays in the store and can be resent later.
		p.log.Warn().Err(err).
			Str("batch_id", b.id).
			Str("unique_id", uid).
			Str("worker", worker).
			Msg("send stage closed, message left pending")
		p.send.inflight.done(b.id, uid)
		b.sent()
	}
	b.prepared(true)
}

func safeBuild(ctx context.Context, builder Builder, principal string) (m *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("pipeline: builder panic: %v", r)
		}
	}()
	m, err = builder.Build(ctx, principal)
	if err == nil && m == nil {
		err = errors.New("pipeline: builder returned no message")
	}
	return m, err
}
