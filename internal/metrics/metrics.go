// Package metrics exposes prometheus instrumentation for the scheduler and
// the grid engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the pipeline updates.
type Metrics struct {
	ActionsTotal    *prometheus.CounterVec
	TilesRecomputed prometheus.Counter
	TilesSkipped    prometheus.Counter
	ExtremeRescans  prometheus.Counter
	BatchFlushes    prometheus.Counter
	PendingActions  prometheus.Gauge
}

// New creates the collectors and registers them on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swath",
			Name:      "actions_total",
			Help:      "Processing actions by terminal status.",
		}, []string{"stage", "status"}),
		TilesRecomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swath",
			Name:      "grid_tiles_recomputed_total",
			Help:      "Tiles whose cells were recomputed by a delta.",
		}),
		TilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swath",
			Name:      "grid_tiles_skipped_total",
			Help:      "Regrid requests skipped because tile membership was unchanged.",
		}),
		ExtremeRescans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swath",
			Name:      "grid_extreme_rescans_total",
			Help:      "Full tile scans forced by removal of a global extreme.",
		}),
		BatchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swath",
			Name:      "grid_batch_flushes_total",
			Help:      "Tile batches flushed to storage during aggregation.",
		}),
		PendingActions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swath",
			Name:      "pending_actions",
			Help:      "Actions currently pending per the staleness evaluator.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ActionsTotal, m.TilesRecomputed, m.TilesSkipped,
			m.ExtremeRescans, m.BatchFlushes, m.PendingActions)
	}
	return m
}

// NewNop returns unregistered collectors for callers that do not scrape.
func NewNop() *Metrics {
	return New(nil)
}
