package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWorkflowMetricsRegisterAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorkflowMetrics(reg)

	m.ObserveRunStarted()
	m.ObserveRunCompleted("SUCCEEDED", "")
	m.ObserveAttempt("passed")
	m.ObserveStage("SEARCHING", 0.25, false)
	m.ObserveEventDropped()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	want := map[string]bool{
		"repassist_workflow_runs_started_total":   false,
		"repassist_workflow_runs_completed_total": false,
		"repassist_workflow_attempts_total":       false,
		"repassist_workflow_stage_latency_seconds": false,
		"repassist_workflow_events_dropped_total":  false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestWorkflowMetricsNilReceiverSafe(t *testing.T) {
	var m *WorkflowMetrics
	m.ObserveRunStarted()
	m.ObserveRunCompleted("FAILED", "no_sources")
	m.ObserveAttempt("failed")
	m.ObserveStage("GENERATING", 1.0, true)
	m.ObserveEventDropped()
}
