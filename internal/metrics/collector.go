// Package metrics exposes Prometheus instrumentation for the scout
// agent's control loop, handshake, and shared-memory transport.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "scout"
	subsystem = "agent"
)

const labelReason = "reason"

// -------------------------------------------------------------------------
// Collector — Prometheus Agent Metrics
// -------------------------------------------------------------------------

// Collector holds all scout-agent Prometheus metrics.
type Collector struct {
	// HandshakeAttempts counts SecureChannel handshake attempts with Spearhead.
	HandshakeAttempts prometheus.Counter

	// HandshakeFailures counts failed handshake attempts, labeled by reason
	// ("connect" for a failed dial, "handshake" for a failed key exchange).
	HandshakeFailures *prometheus.CounterVec

	// HeartbeatsSent counts Heartbeat reports sent to Spearhead.
	HeartbeatsSent prometheus.Counter

	// RuleRequestsSent counts req_rule_update messages sent to Spearhead.
	RuleRequestsSent prometheus.Counter

	// RuleUpdatesReceived counts rules_response messages from Spearhead that
	// parsed successfully and replaced the agent's rule set.
	RuleUpdatesReceived prometheus.Counter

	// ViolationReportsSent counts PacketViolationInfo reports forwarded to Spearhead.
	ViolationReportsSent prometheus.Counter

	// ShmReadsTotal counts reads performed against the shared-memory region.
	ShmReadsTotal prometheus.Counter

	// ShmWritesTotal counts writes performed against the shared-memory region.
	ShmWritesTotal prometheus.Counter

	// LoaderRestarts counts loader subprocess restarts performed by the supervisor.
	LoaderRestarts prometheus.Counter

	// ConnectionState reports 1 when connected to Spearhead, 0 otherwise.
	ConnectionState prometheus.Gauge
}

// NewCollector creates a Collector with all agent metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.HandshakeAttempts,
		c.HandshakeFailures,
		c.HeartbeatsSent,
		c.RuleRequestsSent,
		c.RuleUpdatesReceived,
		c.ViolationReportsSent,
		c.ShmReadsTotal,
		c.ShmWritesTotal,
		c.LoaderRestarts,
		c.ConnectionState,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		HandshakeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_attempts_total",
			Help:      "Total SecureChannel handshake attempts with Spearhead.",
		}),

		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_failures_total",
			Help:      "Total failed SecureChannel handshake attempts, by reason.",
		}, []string{labelReason}),

		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeat reports sent to Spearhead.",
		}),

		RuleRequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rule_requests_sent_total",
			Help:      "Total rule update requests sent to Spearhead.",
		}),

		RuleUpdatesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rule_updates_received_total",
			Help:      "Total rule sets received from Spearhead and installed.",
		}),

		ViolationReportsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "violation_reports_sent_total",
			Help:      "Total packet violation reports forwarded to Spearhead.",
		}),

		ShmReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "shm_reads_total",
			Help:      "Total reads performed against the loader shared-memory region.",
		}),

		ShmWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "shm_writes_total",
			Help:      "Total writes performed against the loader shared-memory region.",
		}),

		LoaderRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "loader_restarts_total",
			Help:      "Total times the supervisor restarted the loader subprocess.",
		}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state",
			Help:      "1 if connected to Spearhead, 0 otherwise.",
		}),
	}
}

// -------------------------------------------------------------------------
// Convenience recorders
// -------------------------------------------------------------------------

// RecordHandshakeFailure increments the handshake failure counter for reason.
func (c *Collector) RecordHandshakeFailure(reason string) {
	c.HandshakeFailures.WithLabelValues(reason).Inc()
}

// SetConnected updates the connection-state gauge.
func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.ConnectionState.Set(1)
		return
	}
	c.ConnectionState.Set(0)
}
