package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the hub.
type Metrics struct {
	EventsIngested *prometheus.CounterVec // labels: source, kind
	ProtocolErrors *prometheus.CounterVec // labels: source
	Reconnects     *prometheus.CounterVec // labels: source
	SourceBlocked  *prometheus.GaugeVec   // labels: source
	EventsDropped  prometheus.Counter
	MailboxDepth   prometheus.Gauge
	EngineRunning  prometheus.Gauge

	// Reconciliation metrics.
	DisplayUpdates   prometheus.Counter
	SyntheticQuakes  prometheus.Counter
	OverrideSessions prometheus.Counter
	SubscriberDrops  prometheus.Counter

	// Telemetry snapshot metrics.
	SnapshotDuration prometheus.Histogram
	SnapshotDelayed  prometheus.Counter
}

// NewMetrics creates and registers all hub metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.EventsIngested,
		m.ProtocolErrors,
		m.Reconnects,
		m.SourceBlocked,
		m.EventsDropped,
		m.MailboxDepth,
		m.EngineRunning,
		m.DisplayUpdates,
		m.SyntheticQuakes,
		m.OverrideSessions,
		m.SubscriberDrops,
		m.SnapshotDuration,
		m.SnapshotDelayed,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "events_ingested_total",
			Help:      "Normalized events received from upstream feeds.",
		}, []string{"source", "kind"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "protocol_errors_total",
			Help:      "Malformed upstream payloads dropped per source.",
		}, []string{"source"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts per push source.",
		}, []string{"source"}),
		SourceBlocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feed_hub",
			Name:      "source_blocked",
			Help:      "1 while a poll source is cooling down after a rate-limit response.",
		}, []string{"source"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the engine mailbox was full.",
		}),
		MailboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feed_hub",
			Name:      "mailbox_depth",
			Help:      "Events waiting in the reconciliation mailbox.",
		}),
		EngineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feed_hub",
			Name:      "engine_running",
			Help:      "1 when the reconciliation engine is active, 0 when shut down.",
		}),
		DisplayUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "display_updates_total",
			Help:      "Times the current display record changed.",
		}),
		SyntheticQuakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "synthetic_quakes_total",
			Help:      "Placeholder quake records synthesized from tsunami-only bulletins.",
		}),
		OverrideSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "override_sessions_total",
			Help:      "Historical-event override sessions started.",
		}),
		SubscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "subscriber_drops_total",
			Help:      "Change notifications dropped on slow subscribers.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feed_hub",
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of one telemetry snapshot fetch and decode.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		SnapshotDelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed_hub",
			Name:      "snapshot_delayed_total",
			Help:      "Snapshots served from the 1-minute-delayed fallback timestamp.",
		}),
	}
}
