package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sungwon/mailbatch/internal/config"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(l), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", l, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogExporter_WritesFinishedSpans(t *testing.T) {
	var buf bytes.Buffer
	tp := NewProvider(1, sdktrace.WithSyncer(NewLogExporter(zerolog.New(&buf))))
	defer tp.Shutdown(context.Background())

	tr := tp.Tracer("test")
	ctx, parent := tr.Start(context.Background(), "pipeline.prepare")
	_, child := tr.Start(ctx, "pipeline.send")
	child.SetAttributes(attribute.String("batch_id", "b1"), attribute.String("failure", "rejected"))
	child.SetStatus(codes.Error, "send failed")
	child.End()
	parent.End()

	got := lines(t, &buf)
	if len(got) != 2 {
		t.Fatalf("logged %d spans, want 2: %s", len(got), buf.String())
	}
	send := got[0]
	if send["span"] != "pipeline.send" || send["component"] != "tracing" {
		t.Errorf("first line = %v", send)
	}
	if send["status"] != "Error" || send["status_message"] != "send failed" {
		t.Errorf("status = %v/%v", send["status"], send["status_message"])
	}
	attrs, _ := send["attributes"].(map[string]any)
	if attrs["batch_id"] != "b1" || attrs["failure"] != "rejected" {
		t.Errorf("attributes = %v", attrs)
	}
	prep := got[1]
	if send["parent_id"] != prep["span_id"] || send["trace_id"] != prep["trace_id"] {
		t.Errorf("child not linked to parent: %v / %v", send, prep)
	}
	if _, ok := prep["parent_id"]; ok {
		t.Errorf("root span has parent_id: %v", prep)
	}
	if _, ok := prep["status"]; ok {
		t.Errorf("unset status logged: %v", prep)
	}
}

func TestNewProvider_SampleRatio(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  int
	}{
		{"all", 1, 1},
		{"none", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tp := NewProvider(tt.ratio, sdktrace.WithSyncer(NewLogExporter(zerolog.New(&buf))))
			defer tp.Shutdown(context.Background())

			_, span := tp.Tracer("test").Start(context.Background(), "pipeline.send")
			span.End()

			if got := len(lines(t, &buf)); got != tt.want {
				t.Errorf("logged %d spans, want %d", got, tt.want)
			}
		})
	}
}

func TestLogExporter_DropsAfterShutdown(t *testing.T) {
	var buf bytes.Buffer
	exp := NewLogExporter(zerolog.New(&buf))
	tp := NewProvider(1, sdktrace.WithSyncer(exp))
	_, span := tp.Tracer("test").Start(context.Background(), "late")

	if err := exp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	span.End()
	if buf.Len() != 0 {
		t.Errorf("span logged after shutdown: %s", buf.String())
	}
}

func TestSetup(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	shutdown := Setup(config.TracingConfig{}, log)
	if otel.GetTracerProvider() != prev {
		t.Error("disabled Setup replaced the global provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("disabled shutdown: %v", err)
	}

	shutdown = Setup(config.TracingConfig{Enabled: true, SampleRatio: 1}, log)
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global provider = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
	_, span := tp.Tracer("test").Start(context.Background(), "pipeline.send")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"span":"pipeline.send"`) {
		t.Errorf("batched span not flushed on shutdown: %s", buf.String())
	}
}
