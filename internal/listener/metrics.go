package listener

import (
	"context"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/message"
	"github.com/sungwon/mailbatch/internal/metrics"
)

// Metrics counts pipeline outcomes in the Prometheus registry.
type Metrics struct {
	Nop
}

func NewMetrics() *Metrics { return &Metrics{} }

func (Metrics) OnPrepareMessageSuccess(context.Context, string, *message.Message) {
	metrics.MessagesPreparedTotal.WithLabelValues(string(ledger.PrepareSuccess)).Inc()
}

func (Metrics) OnPrepareMessageError(context.Context, string, *message.Message, error) {
	metrics.MessagesPreparedTotal.WithLabelValues(string(ledger.PrepareError)).Inc()
}

func (Metrics) OnPrepareFatalError(context.Context, string, error) {
	metrics.PrepareFatalErrorsTotal.Inc()
}

func (Metrics) OnSendMessageSuccess(context.Context, string, *message.Message) {
	metrics.MessagesSentTotal.WithLabelValues(string(ledger.SendSuccess), "").Inc()
}

func (Metrics) OnSendMessageError(_ context.Context, _ string, _ *message.Message, err error) {
	metrics.MessagesSentTotal.WithLabelValues(string(ledger.SendError), string(FailureOf(err))).Inc()
}

func (Metrics) OnSendMessageFatalError(context.Context, string, string, error) {
	metrics.MessagesSentTotal.WithLabelValues(string(ledger.SendFatalError), "").Inc()
}
