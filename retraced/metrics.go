package retraced

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	activeSessions  prometheus.Gauge
	sessions        *prometheus.CounterVec
	batchesIngested prometheus.Counter
	recordsIngested prometheus.Counter
	recordsDropped  prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "retraced",
			Subsystem: "exchange",
			Name:      "active_sessions",
			Help:      "The number of exchange sessions currently open.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retraced",
			Subsystem: "exchange",
			Name:      "sessions_total",
			Help:      "Finished exchange sessions by outcome.",
		}, []string{"outcome"}),
		batchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retraced",
			Subsystem: "exchange",
			Name:      "history_batches_total",
			Help:      "History batches accepted into session buffers.",
		}),
		recordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retraced",
			Subsystem: "exchange",
			Name:      "history_records_ingested_total",
			Help:      "History records counted across all sessions.",
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retraced",
			Subsystem: "exchange",
			Name:      "history_records_dropped_total",
			Help:      "History records dropped by the capacity cap or the record contract.",
		}),
	}
	registerer.MustRegister(
		m.activeSessions,
		m.sessions,
		m.batchesIngested,
		m.recordsIngested,
		m.recordsDropped,
	)
	return m
}
