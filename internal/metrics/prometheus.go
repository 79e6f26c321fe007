package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	MessagesPreparedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbatch_messages_prepared_total",
			Help: "Total number of prepare outcomes",
		},
		[]string{"state"}, // prepare_success, prepare_error
	)

	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbatch_messages_sent_total",
			Help: "Total number of send outcomes",
		},
		// failure is set for send_error only: rejected, deferred, unavailable
		[]string{"state", "failure"},
	)

	PrepareFatalErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailbatch_prepare_fatal_errors_total",
			Help: "Total number of batches whose prepare phase was aborted",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailbatch_queue_depth",
			Help: "Number of items waiting in a pipeline queue",
		},
		[]string{"queue"}, // prepare, send
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailbatch_send_duration_seconds",
			Help:    "Duration of transport send calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailbatch_active_batches",
			Help: "Number of batches not yet fully processed",
		},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbatch_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbatch_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Status persistence metrics
var (
	StatusPersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbatch_status_persist_duration_seconds",
			Help:    "Duration of status writes to the persistent ledger",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"}, // postgres, redis
	)

	StatusPersistErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbatch_status_persist_errors_total",
			Help: "Total number of failed status writes",
		},
		[]string{"backend"},
	)
)
