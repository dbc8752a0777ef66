package progress

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/learning-platform/services/progress/internal/course"
)

const (
	outcomeApplied = "applied"
	outcomeNoop    = "noop"
	outcomeFailed  = "failed"
)

// Metrics counts propagation work. A nil *Metrics is a no-op.
type Metrics struct {
	propagations *prometheus.CounterVec
	drift        *prometheus.CounterVec
	reconciled   *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progress",
			Name:      "propagation_total",
			Help:      "Propagation rule executions by rule and outcome.",
		}, []string{"rule", "outcome"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progress",
			Name:      "drift_candidates_total",
			Help:      "Propagations abandoned after retry; reconciliation repairs them.",
		}, []string{"rule"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progress",
			Name:      "reconcile_lessons_total",
			Help:      "Lesson completions visited by reconciliation by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.propagations, m.drift, m.reconciled)
	}
	return m
}

func (m *Metrics) propagation(rule course.Rule, outcome string) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(string(rule), outcome).Inc()
}

func (m *Metrics) driftCandidate(rule course.Rule) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(string(rule)).Inc()
}

func (m *Metrics) reconcile(res BackfillResult) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues("created").Add(float64(res.Created))
	m.reconciled.WithLabelValues("updated").Add(float64(res.Updated))
	m.reconciled.WithLabelValues("already_correct").Add(float64(res.AlreadyCorrect))
}
