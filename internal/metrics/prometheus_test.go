package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	tests := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"MessagesPreparedTotal", MessagesPreparedTotal},
		{"MessagesSentTotal", MessagesSentTotal},
		{"PrepareFatalErrorsTotal", PrepareFatalErrorsTotal},
		{"QueueDepth", QueueDepth},
		{"SendDuration", SendDuration},
		{"ActiveBatches", ActiveBatches},
		{"APIRequestsTotal", APIRequestsTotal},
		{"APIRequestDuration", APIRequestDuration},
		{"StatusPersistDuration", StatusPersistDuration},
		{"StatusPersistErrorsTotal", StatusPersistErrorsTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s is nil", tt.name)
			}
		})
	}
}

func TestMessagesSentByState(t *testing.T) {
	before := testutil.ToFloat64(MessagesSentTotal.WithLabelValues("send_error", "rejected"))
	MessagesSentTotal.WithLabelValues("send_error", "rejected").Inc()
	if got := testutil.ToFloat64(MessagesSentTotal.WithLabelValues("send_error", "rejected")); got != before+1 {
		t.Errorf("send_error counter = %v, want %v", got, before+1)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	QueueDepth.WithLabelValues("prepare").Set(3)
	QueueDepth.WithLabelValues("prepare").Dec()
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("prepare")); got != 2 {
		t.Errorf("prepare queue depth = %v, want 2", got)
	}
}

func TestHistograms(t *testing.T) {
	SendDuration.Observe(0.02)
	APIRequestDuration.WithLabelValues("GET", "/batches/{id}").Observe(0.01)
	StatusPersistDuration.WithLabelValues("redis").Observe(0.001)
}
