package listener

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/message"
)

// Logging writes one structured log line per event.
type Logging struct {
	Nop
	logger zerolog.Logger
}

// NewLogging returns a listener logging through logger.
func NewLogging(logger zerolog.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) OnPrepareBegin(_ context.Context, batchID string) {
	l.logger.Info().Str("batch_id", batchID).Msg("prepare started")
}

func (l *Logging) OnPrepareMessageSuccess(_ context.Context, batchID string, m *message.Message) {
	l.logger.Debug().
		Str("batch_id", batchID).
		Str("unique_id", m.UniqueID()).
		Msg("message prepared")
}

func (l *Logging) OnPrepareMessageError(_ context.Context, batchID string, m *message.Message, err error) {
	ev := l.logger.Warn().Err(err).Str("batch_id", batchID)
	if m != nil {
		ev = ev.Str("unique_id", m.UniqueID())
	}
	ev.Msg("message prepare failed")
}

func (l *Logging) OnPrepareFatalError(_ context.Context, batchID string, err error) {
	l.logger.Error().Err(err).Str("batch_id", batchID).Msg("prepare aborted")
}

func (l *Logging) OnPrepareEnd(_ context.Context, batchID string, total int64) {
	l.logger.Info().Str("batch_id", batchID).Int64("total", total).Msg("prepare finished")
}

func (l *Logging) OnSendMessageSuccess(_ context.Context, batchID string, m *message.Message) {
	l.logger.Info().
		Str("batch_id", batchID).
		Str("unique_id", m.UniqueID()).
		Strs("recipients", m.Recipients()).
		Msg("message sent")
}

func (l *Logging) OnSendMessageError(_ context.Context, batchID string, m *message.Message, err error) {
	l.logger.Warn().Err(err).
		Str("batch_id", batchID).
		Str("unique_id", m.UniqueID()).
		Strs("recipients", m.Recipients()).
		Str("failure", string(FailureOf(err))).
		Msg("message send failed")
}

func (l *Logging) OnSendMessageFatalError(_ context.Context, batchID, uniqueID string, err error) {
	l.logger.Error().Err(err).
		Str("batch_id", batchID).
		Str("unique_id", uniqueID).
		Msg("message could not be loaded for sending")
}
