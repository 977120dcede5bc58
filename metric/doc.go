// Package metric provides the Prometheus metrics registry and HTTP endpoint
// of the nestor daemon.
//
// MetricsRegistry owns a private prometheus.Registry with the Go runtime and
// process collectors, the daemon's core metrics (Metrics) and any metric a
// component registers under its own name. Registration is keyed by
// "component.metric" and duplicates are rejected as invalid.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordPacketReceived("OBJECTS")
//
//	srv := metric.NewServer(":9090", "/metrics", registry)
//	go srv.Run(ctx)
//
// The server answers /metrics in Prometheus exposition format and /health
// with a plain "OK".
package metric
