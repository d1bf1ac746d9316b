// Package metrics provides Prometheus metrics for the produce gateway.
//
// Exposed families:
//   - Produce request latency broken down by endpoint and success/failure
//   - Produce request counters by endpoint and status
//   - Records accepted and per-partition append outcomes
//   - Produce errors by taxonomy kind
//   - HTTP requests in flight, by route and status code
//
// franz-go client metrics are registered separately through kprom.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	produceMetrics := metrics.NewProduceMetricsWithRegistry(reg)
//	httpMetrics := metrics.NewHTTPMetricsWithRegistry(reg)
//
//	producer := produce.New(cfg, meta, appender, produce.WithMetrics(produceMetrics))
//	health.RegisterHandler("/metrics", metrics.Handler(reg))
package metrics
