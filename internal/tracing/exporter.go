package tracing

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes each finished span as one debug line.
type LogExporter struct {
	log     zerolog.Logger
	stopped atomic.Bool
}

// NewLogExporter returns an exporter writing to log.
func NewLogExporter(log zerolog.Logger) *LogExporter {
	return &LogExporter{log: log.With().Str("component", "tracing").Logger()}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() {
		return nil
	}
	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		sc := s.SpanContext()
		ev := e.log.Debug().
			Str("span", s.Name()).
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime()))
		if p := s.Parent(); p.IsValid() {
			ev = ev.Str("parent_id", p.SpanID().String())
		}
		if st := s.Status(); st.Code != codes.Unset {
			ev = ev.Str("status", st.Code.String()).Str("status_message", st.Description)
		}
		if attrs := s.Attributes(); len(attrs) > 0 {
			d := zerolog.Dict()
			for _, kv := range attrs {
				d = d.Str(string(kv.Key), kv.Value.Emit())
			}
			ev = ev.Dict("attributes", d)
		}
		ev.Msg("span")
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter. Later exports are dropped.
func (e *LogExporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}
