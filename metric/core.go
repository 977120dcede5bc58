package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the daemon.
const Namespace = "nestor"

// Metrics holds the daemon-wide metrics.
type Metrics struct {
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	UIOps           *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	WorkerStatus    *prometheus.GaugeVec

	ActiveClients  prometheus.Gauge
	ActiveSessions prometheus.Gauge
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metrics, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ipc", Name: "packets_received_total",
			Help: "Packets received on the control socket",
		}, []string{"opcode"}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ipc", Name: "packets_sent_total",
			Help: "Packets sent on the control socket",
		}, []string{"opcode"}),

		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "objects", Name: "failures_total",
			Help: "Failed object requests by reason code",
		}, []string{"frontend", "reason"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "objects", Name: "request_duration_seconds",
			Help:    "Object request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"frontend", "operation"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),

		UIOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ui", Name: "ops_total",
			Help: "UI operations flushed to browsers by render mode",
		}, []string{"mode"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "notify", Name: "notifications_total",
			Help: "Notifications delivered on the bus",
		}, []string{"name"}),

		WorkerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "service", Name: "worker_status",
			Help: "Worker status (0=stopped, 1=running, 2=restarting, 3=failed)",
		}, []string{"worker"}),

		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "ipc", Name: "active_clients",
			Help: "Connected control socket clients",
		}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "web", Name: "active_sessions",
			Help: "Live web UI sessions",
		}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "nats", Name: "connected",
			Help: "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "nats", Name: "reconnects_total",
			Help: "Total number of NATS reconnections",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PacketsReceived, m.PacketsSent, m.Failures, m.RequestDuration,
		m.HTTPRequests, m.UIOps, m.Notifications, m.WorkerStatus,
		m.ActiveClients, m.ActiveSessions, m.NATSConnected, m.NATSReconnects,
	}
}

// Worker status values.
const (
	WorkerStopped    = 0
	WorkerRunning    = 1
	WorkerRestarting = 2
	WorkerFailed     = 3
)

// The Record helpers accept a nil receiver so components built without a
// registry can call them unconditionally.

func (m *Metrics) RecordPacketReceived(opcode string) {
	if m != nil {
		m.PacketsReceived.WithLabelValues(opcode).Inc()
	}
}

func (m *Metrics) RecordPacketSent(opcode string) {
	if m != nil {
		m.PacketsSent.WithLabelValues(opcode).Inc()
	}
}

// RecordFailure counts a failure by the code part of its reason.
func (m *Metrics) RecordFailure(frontend, code string) {
	if m != nil {
		m.Failures.WithLabelValues(frontend, code).Inc()
	}
}

func (m *Metrics) RecordRequestDuration(frontend, operation string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(frontend, operation).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordHTTPRequest(route string, status int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, statusLabel(status)).Inc()
	}
}

func (m *Metrics) RecordUIOps(mode string, n int) {
	if m != nil {
		m.UIOps.WithLabelValues(mode).Add(float64(n))
	}
}

func (m *Metrics) RecordNotification(name string) {
	if m != nil {
		m.Notifications.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) RecordWorkerStatus(worker string, status int) {
	if m != nil {
		m.WorkerStatus.WithLabelValues(worker).Set(float64(status))
	}
}

func (m *Metrics) AddActiveClients(delta int) {
	if m != nil {
		m.ActiveClients.Add(float64(delta))
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}

func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

func (m *Metrics) RecordNATSReconnect() {
	if m != nil {
		m.NATSReconnects.Inc()
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
