package automation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for chain runs.
type Metrics struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	active    prometheus.Gauge
	preempted prometheus.Counter
}

// NewMetrics registers the chain run collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "vdev",
			Name:      "chain_runs_total",
			Help:      "Chain runs settled, by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graylogic",
			Subsystem: "vdev",
			Name:      "chain_run_duration_seconds",
			Help:      "Wall time from trigger to settlement.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "vdev",
			Name:      "chain_runs_active",
			Help:      "Chain runs currently in flight.",
		}),
		preempted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "vdev",
			Name:      "chain_runs_preempted_total",
			Help:      "Runs aborted because a newer transition was triggered on the same device.",
		}),
	}
}

// The methods below are nil-safe so the controller can run without metrics.

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) settled(status RunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.runs.WithLabelValues(string(status)).Inc()
	m.duration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (m *Metrics) preemptedRun() {
	if m == nil {
		return
	}
	m.preempted.Inc()
}
