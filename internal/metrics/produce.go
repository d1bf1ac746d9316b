package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProduceMetrics holds metrics related to produce requests.
type ProduceMetrics struct {
	// LatencyHistogram tracks produce request latencies.
	// Labels: endpoint (topic, partition), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total produce requests by endpoint and status.
	RequestsTotal *prometheus.CounterVec

	// RecordsTotal tracks records acknowledged by the broker.
	RecordsTotal prometheus.Counter

	// PartitionAppendsTotal tracks per-partition append calls by status.
	PartitionAppendsTotal *prometheus.CounterVec

	// ErrorsTotal tracks failed produce requests by error kind.
	ErrorsTotal *prometheus.CounterVec
}

// DefaultProduceLatencyBuckets are latency buckets for produce requests.
// A gateway request includes at least one broker round trip, so buckets
// start at 1ms and stretch to the default produce timeout.
var DefaultProduceLatencyBuckets = []float64{
	0.001, // 1ms
	0.0025,
	0.005,
	0.01,
	0.025,
	0.05,
	0.1,
	0.25,
	0.5,
	1.0,
	2.5,
	5.0,
	10.0,
	30.0,
}

// StatusSuccess is the label value for successful requests.
const StatusSuccess = "success"

// StatusFailure is the label value for failed requests.
const StatusFailure = "failure"

// Endpoint label values.
const (
	EndpointTopic     = "topic"
	EndpointPartition = "partition"
)

// NewProduceMetrics creates produce metrics registered with the default registry.
func NewProduceMetrics() *ProduceMetrics {
	return NewProduceMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewProduceMetricsWithRegistry creates produce metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewProduceMetricsWithRegistry(reg prometheus.Registerer) *ProduceMetrics {
	f := promauto.With(reg)
	return &ProduceMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "drayrest",
				Subsystem: "produce",
				Name:      "latency_seconds",
				Help:      "Produce request latency in seconds, broken down by endpoint and success/failure.",
				Buckets:   DefaultProduceLatencyBuckets,
			},
			[]string{"endpoint", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "drayrest",
				Subsystem: "produce",
				Name:      "requests_total",
				Help:      "Total number of produce requests, broken down by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		RecordsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "drayrest",
				Subsystem: "produce",
				Name:      "records_total",
				Help:      "Total number of records acknowledged by the broker.",
			},
		),
		PartitionAppendsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "drayrest",
				Subsystem: "produce",
				Name:      "partition_appends_total",
				Help:      "Total number of per-partition append calls, broken down by status.",
			},
			[]string{"status"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "drayrest",
				Subsystem: "produce",
				Name:      "errors_total",
				Help:      "Total number of failed produce requests, broken down by error kind.",
			},
			[]string{"kind"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

// RecordLatency records a produce request latency for endpoint.
func (m *ProduceMetrics) RecordLatency(endpoint string, durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(endpoint, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordSuccess is a convenience method to record a successful produce latency.
func (m *ProduceMetrics) RecordSuccess(endpoint string, durationSeconds float64) {
	m.RecordLatency(endpoint, durationSeconds, true)
}

// RecordFailure is a convenience method to record a failed produce latency.
func (m *ProduceMetrics) RecordFailure(endpoint string, durationSeconds float64) {
	m.RecordLatency(endpoint, durationSeconds, false)
}

// RecordRecords increments the acknowledged record counter by count.
func (m *ProduceMetrics) RecordRecords(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.RecordsTotal.Add(float64(count))
}

// RecordPartitionAppend counts one per-partition append call.
func (m *ProduceMetrics) RecordPartitionAppend(success bool) {
	if m == nil {
		return
	}
	m.PartitionAppendsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError counts a failed request under its error kind.
func (m *ProduceMetrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
