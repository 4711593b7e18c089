package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := MustNewMetrics(registry)

	m.TaskSubmitted()
	m.TaskSubmitted()
	m.PhaseEntered("planning")
	m.PhaseEntered("planning")
	m.PhaseEntered("failed")
	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished()
	m.ObserveStep("optimize_structure_with_mace", "success", 2*time.Second)
	m.ObservePlanner("ok", 300*time.Millisecond)

	if got := testutil.ToFloat64(m.tasksSubmitted); got != 2 {
		t.Errorf("Expected 2 submitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.phaseTransitions.WithLabelValues("planning")); got != 2 {
		t.Errorf("Expected 2 planning transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.phaseTransitions.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.tasksActive); got != 1 {
		t.Errorf("Expected 1 active task, got %v", got)
	}
	if got := testutil.CollectAndCount(m.stepDuration); got != 1 {
		t.Errorf("Expected 1 step series, got %d", got)
	}
	if got := testutil.CollectAndCount(m.plannerDuration); got != 1 {
		t.Errorf("Expected 1 planner series, got %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TaskSubmitted()
	m.PhaseEntered("planning")
	m.TaskStarted()
	m.TaskFinished()
	m.ObserveStep("x", "failed", time.Second)
	m.ObservePlanner("error", time.Second)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	MustNewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	MustNewMetrics(registry)
}
