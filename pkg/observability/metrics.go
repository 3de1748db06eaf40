package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// HTTP server metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Write pipeline metrics
	PrimaryWrites     *prometheus.CounterVec
	PrimaryAttempts   prometheus.Histogram
	SecondaryFailures *prometheus.CounterVec
	BatchSubmissions  *prometheus.CounterVec
	UnprocessedItems  prometheus.Counter
	FailedBatchItems  prometheus.Counter

	// Outbound HTTP client metrics
	ClientRequests *prometheus.CounterVec
	ClientRetries  prometheus.Counter
	ClientDuration *prometheus.HistogramVec
	TokenRefreshes *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PrimaryWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_primary_writes_total",
				Help:      "Primary writes by table and outcome",
			},
			[]string{"table", "outcome"},
		),
		PrimaryAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_primary_attempts",
				Help:      "Attempts needed per primary write",
				Buckets:   []float64{1, 2, 3, 5, 8},
			},
		),
		SecondaryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_secondary_failures_total",
				Help:      "Failed secondary updates by operation and criticality",
			},
			[]string{"operation", "critical"},
		),
		BatchSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_batch_submissions_total",
				Help:      "Batch write requests by result",
			},
			[]string{"result"},
		),
		UnprocessedItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_unprocessed_items_total",
				Help:      "Items deferred by the store in batch responses",
			},
		),
		FailedBatchItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_failed_batch_items_total",
				Help:      "Items that could not be written by a batch write",
			},
		),
		ClientRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_client_requests_total",
				Help:      "Outbound HTTP attempts by method and status",
			},
			[]string{"method", "status"},
		),
		ClientRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_client_retries_total",
				Help:      "Outbound HTTP retries",
			},
		),
		ClientDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_client_request_duration_seconds",
				Help:      "Outbound HTTP call duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Credential refreshes by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.PrimaryWrites,
		c.PrimaryAttempts,
		c.SecondaryFailures,
		c.BatchSubmissions,
		c.UnprocessedItems,
		c.FailedBatchItems,
		c.ClientRequests,
		c.ClientRetries,
		c.ClientDuration,
		c.TokenRefreshes,
	)

	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPrimaryWrite records the result of a primary write.
func (c *Collector) RecordPrimaryWrite(table, outcome string, attempts int) {
	if c == nil {
		return
	}
	c.PrimaryWrites.WithLabelValues(table, outcome).Inc()
	c.PrimaryAttempts.Observe(float64(attempts))
}

// RecordSecondaryFailure records a failed secondary update.
func (c *Collector) RecordSecondaryFailure(operation string, critical bool) {
	if c == nil {
		return
	}
	c.SecondaryFailures.WithLabelValues(operation, strconv.FormatBool(critical)).Inc()
}

// RecordBatchSubmission records one batch request and the items it deferred.
func (c *Collector) RecordBatchSubmission(result string, unprocessed int) {
	if c == nil {
		return
	}
	c.BatchSubmissions.WithLabelValues(result).Inc()
	c.UnprocessedItems.Add(float64(unprocessed))
}

// RecordFailedBatchItems records items a batch write gave up on.
func (c *Collector) RecordFailedBatchItems(n int) {
	if c == nil || n == 0 {
		return
	}
	c.FailedBatchItems.Add(float64(n))
}

// RecordClientAttempt records one outbound HTTP attempt. Status 0 means the
// attempt never produced a response.
func (c *Collector) RecordClientAttempt(method string, status int) {
	if c == nil {
		return
	}
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	c.ClientRequests.WithLabelValues(method, label).Inc()
}

// RecordClientRetry records one outbound HTTP retry.
func (c *Collector) RecordClientRetry() {
	if c == nil {
		return
	}
	c.ClientRetries.Inc()
}

// RecordClientCall records the total duration of a logical outbound call.
func (c *Collector) RecordClientCall(method string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ClientDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTokenRefresh records a credential refresh.
func (c *Collector) RecordTokenRefresh(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.TokenRefreshes.WithLabelValues(result).Inc()
}
