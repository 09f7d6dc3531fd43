// Package metric provides Prometheus-based metrics for sparkbridge.
//
// A MetricsRegistry owns a private prometheus.Registry with the bridge-level
// Metrics (ingestion, fanout, upstream, rebirth) and the Go runtime
// collectors pre-registered. Components that keep their own collectors, such
// as the handoff queue, register them through the MetricsRegistrar methods,
// which reject duplicate names with an Invalid error.
//
// Every component treats a nil *Metrics or nil registry as "metrics off", so
// tests can construct components without any Prometheus state.
//
//	registry := metric.NewMetricsRegistry()
//	router.GET("/metrics", gin.WrapH(registry.Handler()))
package metric
