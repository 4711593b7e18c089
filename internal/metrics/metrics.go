// Package metrics exposes Prometheus collectors for task and step activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mofagent"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	tasksSubmitted   prometheus.Counter
	phaseTransitions *prometheus.CounterVec
	tasksActive      prometheus.Gauge
	stepDuration     *prometheus.HistogramVec
	plannerDuration  *prometheus.HistogramVec
}

// MustNewMetrics constructs and registers the collectors with reg. Pass a
// fresh prometheus.NewRegistry() in tests. Registration errors panic, as
// with the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Tasks accepted for execution.",
		}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "phase_transitions_total",
			Help:      "Lifecycle transitions by target phase.",
		}, []string{"phase"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Tasks currently planning or executing.",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Duration of plan steps by tool and outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		}, []string{"tool", "status"}),
		plannerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "duration_seconds",
			Help:      "Time spent producing a plan, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.tasksSubmitted, m.phaseTransitions, m.tasksActive, m.stepDuration, m.plannerDuration)
	return m
}

// TaskSubmitted counts an accepted task.
func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

// PhaseEntered counts a transition into phase.
func (m *Metrics) PhaseEntered(phase string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(phase).Inc()
}

// TaskStarted marks a task body as running.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

// TaskFinished marks a task body as done.
func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
}

// ObserveStep records how long one step took.
func (m *Metrics) ObserveStep(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(tool, status).Observe(d.Seconds())
}

// ObservePlanner records how long planning took; outcome is "ok" or "error".
func (m *Metrics) ObservePlanner(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.plannerDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
