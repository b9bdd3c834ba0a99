// Package metrics exports sweep and storage counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itohio/gofet/pkg/sample"
	"github.com/itohio/gofet/pkg/sweep"
)

const namespace = "gofet"

// UsageFunc reports used and total storage bytes.
type UsageFunc func() (used, total uint64, err error)

// Metrics is a sweep.Observer backed by its own Prometheus registry.
type Metrics struct {
	reg *prometheus.Registry

	started  prometheus.Counter
	finished *prometheus.CounterVec
	rows     prometheus.Counter
	curves   prometheus.Counter
	duration prometheus.Histogram
	swing    prometheus.Gauge
	maxGm    prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_started_total",
			Help:      "Sweeps accepted by the controller.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_finished_total",
			Help:      "Sweeps finished, by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Measurement rows written to storage.",
		}),
		curves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "curves_analyzed_total",
			Help:      "Transfer curves analyzed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time from sweep start to finish.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		swing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_subthreshold_swing_mv_per_decade",
			Help:      "Subthreshold swing of the last curve with a valid fit.",
		}),
		maxGm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_max_transconductance_siemens",
			Help:      "Peak transconductance of the last analyzed curve.",
		}),
	}

	m.reg.MustRegister(m.started, m.finished, m.rows, m.curves, m.duration, m.swing, m.maxGm)
	for _, o := range []sweep.Outcome{sweep.OutcomeCompleted, sweep.OutcomeCancelled, sweep.OutcomeFailed} {
		m.finished.WithLabelValues(string(o))
	}
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WatchStorage exports storage usage sampled on every scrape.
func (m *Metrics) WatchStorage(fn UsageFunc) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "storage_used_ratio",
		Help:      "Fraction of measurement storage in use.",
	}, func() float64 {
		used, total, err := fn()
		if err != nil || total == 0 {
			return 0
		}
		return float64(used) / float64(total)
	}))
}

// WatchLogDrops exports the log queue drop counter.
func (m *Metrics) WatchLogDrops(fn func() uint64) {
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_dropped_total",
		Help:      "Log messages dropped because the queue was full.",
	}, func() float64 {
		return float64(fn())
	}))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SweepStarted(string, sweep.Config) {
	m.started.Inc()
}

func (m *Metrics) RowWritten() {
	m.rows.Inc()
}

func (m *Metrics) CurveAnalyzed(meta sample.CurveMeta) {
	m.curves.Inc()
	m.maxGm.Set(meta.MaxGm)
	if meta.SSValid {
		m.swing.Set(meta.SS)
	}
}

func (m *Metrics) SweepFinished(_ string, outcome sweep.Outcome, elapsed time.Duration) {
	m.finished.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
