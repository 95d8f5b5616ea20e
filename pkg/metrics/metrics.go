// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// JobsTotal tracks processed jobs by final outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_jobs_total",
			Help: "Total jobs processed by outcome",
		},
		[]string{"outcome"},
	)

	// JobDuration tracks end-to-end job processing duration.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_job_duration_seconds",
			Help:    "Job processing duration from dequeue to acknowledgement",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	// CompletionDuration tracks completion backend call duration.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_completion_duration_seconds",
			Help:    "Completion backend call duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// CompletionTokens tracks tokens consumed by completion calls.
	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_completion_tokens_total",
			Help: "Total completion tokens processed",
		},
		[]string{"direction"},
	)

	// CacheLookups tracks completion cache hit/miss counts.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_completion_cache_lookups_total",
			Help: "Completion cache lookups by result",
		},
		[]string{"result"},
	)

	// DeliveriesTotal tracks outbound delivery attempts by result.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Outbound message deliveries by result",
		},
		[]string{"result"},
	)

	// DeliveryRetries tracks delivery attempts beyond the first.
	DeliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_delivery_retries_total",
			Help: "Delivery attempts beyond the first per send",
		},
	)

	// RateLimitWait tracks time spent waiting for an outbound send slot.
	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_rate_limit_wait_seconds",
			Help:    "Time spent waiting for an outbound send slot",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// QueueDepth tracks the number of jobs by queue state.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Number of jobs by queue state",
		},
		[]string{"state"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for a completion backend call.
func RecordCompletion(provider, status string, duration float64, tokensIn, tokensOut int) {
	CompletionDuration.WithLabelValues(provider, status).Observe(duration)
	CompletionTokens.WithLabelValues("in").Add(float64(tokensIn))
	CompletionTokens.WithLabelValues("out").Add(float64(tokensOut))
}
