package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds metrics related to the gateway's HTTP surface.
type HTTPMetrics struct {
	// InFlightRequests tracks the current number of requests being served.
	InFlightRequests prometheus.Gauge

	// RequestsTotal tracks total requests by route and HTTP status code.
	// Labels: route (produce_topic, produce_partition, ...), code
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal tracks error responses by route and API error code.
	// Labels: route, error_code
	ErrorsTotal *prometheus.CounterVec
}

// NewHTTPMetrics creates HTTP metrics registered with the default registry.
func NewHTTPMetrics() *HTTPMetrics {
	return NewHTTPMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewHTTPMetricsWithRegistry creates HTTP metrics registered with a custom registry.
func NewHTTPMetricsWithRegistry(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		InFlightRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "drayrest",
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "Current number of HTTP requests being served.",
			},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "drayrest",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests, broken down by route and status code.",
			},
			[]string{"route", "code"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "drayrest",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total number of error responses, broken down by route and API error code.",
			},
			[]string{"route", "error_code"},
		),
	}
}

// RequestStarted increments the in-flight gauge.
func (m *HTTPMetrics) RequestStarted() {
	if m == nil {
		return
	}
	m.InFlightRequests.Inc()
}

// RequestFinished decrements the in-flight gauge and counts the request.
func (m *HTTPMetrics) RequestFinished(route string, statusCode int) {
	if m == nil {
		return
	}
	m.InFlightRequests.Dec()
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// RecordError counts an error response by its API error code.
func (m *HTTPMetrics) RecordError(route string, errorCode int) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(route, strconv.Itoa(errorCode)).Inc()
}
