// Package tracing installs the process-wide tracer provider. Spans are
// recorded by the OpenTelemetry SDK and written out through zerolog.
package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sungwon/mailbatch/internal/config"
)

// Setup installs a global provider when cfg.Enabled and returns its
// shutdown, which flushes buffered spans. Disabled, the global provider is
// left alone and shutdown is a no-op.
func Setup(cfg config.TracingConfig, log zerolog.Logger) func(context.Context) error {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}
	tp := NewProvider(cfg.SampleRatio, sdktrace.WithBatcher(NewLogExporter(log)))
	otel.SetTracerProvider(tp)
	log.Info().Float64("sample_ratio", cfg.SampleRatio).Msg("tracing enabled")
	return tp.Shutdown
}

// NewProvider builds a provider sampling ratio of root traces. Child spans
// follow their parent's decision.
func NewProvider(ratio float64, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append(opts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))))
	return sdktrace.NewTracerProvider(opts...)
}
