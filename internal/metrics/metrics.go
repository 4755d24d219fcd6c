package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_backend_calls_total",
			Help: "Total prediction backend REST calls",
		},
		[]string{"endpoint", "status"},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plantwatch_backend_latency_seconds",
			Help:    "Prediction backend call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_push_events_total",
			Help: "Push channel events received, by kind and outcome (applied, stale, invalid)",
		},
		[]string{"kind", "outcome"},
	)

	PushConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantwatch_push_connection_state",
			Help: "Push channel state: 0 disconnected, 1 connecting, 2 connected",
		},
	)

	PushReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_push_reconnects_total",
			Help: "Push channel connection attempts after the first",
		},
	)

	SnapshotFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_snapshot_fetches_total",
			Help: "Snapshot fetch completions, by outcome (ok, error, timeout, stale)",
		},
		[]string{"outcome"},
	)

	ReadingsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_readings_archived_total",
			Help: "Sensor readings written to an archive sink",
		},
		[]string{"sink"},
	)

	ArchiveDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_archive_dropped_total",
			Help: "Readings and push events dropped because the archive queue was full",
		},
	)

	ReadingsSimulated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_readings_simulated_total",
			Help: "Simulated sensor readings posted to the backend",
		},
		[]string{"plant", "status"},
	)
)
