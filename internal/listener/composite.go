package listener

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/message"
)

// Composite forwards every event to a main listener and then to the
// auxiliary listeners, in registration order. A listener that panics is
// logged and skipped; the rest still receive the event.
type Composite struct {
	main   Listener
	aux    []Listener
	logger zerolog.Logger
}

var _ Listener = (*Composite)(nil)

// NewComposite returns a listener fanning out to main and aux. main may not
// be nil; it owns the batch result.
func NewComposite(logger zerolog.Logger, main Listener, aux ...Listener) *Composite {
	return &Composite{main: main, aux: aux, logger: logger}
}

// StatusResult delegates to the main listener only.
func (c *Composite) StatusResult() ledger.Result {
	return c.main.StatusResult()
}

func (c *Composite) OnPrepareBegin(ctx context.Context, batchID string) {
	c.each("prepare_begin", batchID, func(l Listener) { l.OnPrepareBegin(ctx, batchID) })
}

func (c *Composite) OnPrepareMessageSuccess(ctx context.Context, batchID string, m *message.Message) {
	c.each("prepare_message_success", batchID, func(l Listener) { l.OnPrepareMessageSuccess(ctx, batchID, m) })
}

func (c *Composite) OnPrepareMessageError(ctx context.Context, batchID string, m *message.Message, err error) {
	c.each("prepare_message_error", batchID, func(l Listener) { l.OnPrepareMessageError(ctx, batchID, m, err) })
}

func (c *Composite) OnPrepareFatalError(ctx context.Context, batchID string, err error) {
	c.each("prepare_fatal_error", batchID, func(l Listener) { l.OnPrepareFatalError(ctx, batchID, err) })
}

func (c *Composite) OnPrepareEnd(ctx context.Context, batchID string, total int64) {
	c.each("prepare_end", batchID, func(l Listener) { l.OnPrepareEnd(ctx, batchID, total) })
}

func (c *Composite) OnSendMessageSuccess(ctx context.Context, batchID string, m *message.Message) {
	c.each("send_message_success", batchID, func(l Listener) { l.OnSendMessageSuccess(ctx, batchID, m) })
}

func (c *Composite) OnSendMessageError(ctx context.Context, batchID string, m *message.Message, err error) {
	c.each("send_message_error", batchID, func(l Listener) { l.OnSendMessageError(ctx, batchID, m, err) })
}

func (c *Composite) OnSendMessageFatalError(ctx context.Context, batchID, uniqueID string, err error) {
	c.each("send_message_fatal_error", batchID, func(l Listener) { l.OnSendMessageFatalError(ctx, batchID, uniqueID, err) })
}

func (c *Composite) each(event, batchID string, fn func(Listener)) {
	c.call(event, batchID, c.main, fn)
	for _, l := range c.aux {
		c.call(event, batchID, l, fn)
	}
}

func (c *Composite) call(event, batchID string, l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("event", event).
				Str("batch_id", batchID).
				Str("listener", fmt.Sprintf("%T", l)).
				Interface("panic", r).
				Msg("mail listener failed")
		}
	}()
	fn(l)
}
