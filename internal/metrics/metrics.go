// Package metrics exposes Prometheus counters for the session engine. A
// nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storyloom"

// Turn outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

type Recorder struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	saveOps      *prometheus.CounterVec
	corrupted    prometheus.Gauge
	items        *prometheus.CounterVec
}

// New registers every metric on a private registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Story turns by provider, kind and outcome.",
		}, []string{"provider", "kind", "outcome"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a story turn including retries.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		saveOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_operations_total",
			Help:      "Save store operations by type and result.",
		}, []string{"op", "result"}),
		corrupted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corrupted_saves",
			Help:      "Corrupted records seen by the last listing.",
		}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_items_total",
			Help:      "Inventory changes applied by reconciliation.",
		}, []string{"change"}),
	}
}

// Registry is what the /metrics handler serves.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Turn(provider, kind, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(provider, kind, outcome).Inc()
	if outcome != OutcomeRejected {
		r.turnDuration.WithLabelValues(provider).Observe(took.Seconds())
	}
}

func (r *Recorder) SaveOp(op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.saveOps.WithLabelValues(op, result).Inc()
}

func (r *Recorder) Corrupted(n int) {
	if r == nil {
		return
	}
	r.corrupted.Set(float64(n))
}

func (r *Recorder) Items(granted, discarded int) {
	if r == nil {
		return
	}
	if granted > 0 {
		r.items.WithLabelValues("granted").Add(float64(granted))
	}
	if discarded > 0 {
		r.items.WithLabelValues("discarded").Add(float64(discarded))
	}
}
