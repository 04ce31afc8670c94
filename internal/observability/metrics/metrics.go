package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics exposes counters/histograms for the assist workflow.
type WorkflowMetrics struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
	eventsDropped prometheus.Counter
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repassist",
			Subsystem: "workflow",
			Name:      "runs_started_total",
			Help:      "Total workflow runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repassist",
			Subsystem: "workflow",
			Name:      "runs_completed_total",
			Help:      "Total workflow runs reaching a terminal state",
		}, []string{"terminal_state", "error_kind"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repassist",
			Subsystem: "workflow",
			Name:      "attempts_total",
			Help:      "Total run attempts by outcome",
		}, []string{"outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repassist",
			Subsystem: "workflow",
			Name:      "stage_latency_seconds",
			Help:      "Latency of workflow stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repassist",
			Subsystem: "workflow",
			Name:      "events_dropped_total",
			Help:      "Progress events shed because a subscriber was full",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsStarted, m.runsCompleted, m.attemptsTotal, m.stageLatency, m.eventsDropped)
	return m
}

func (m *WorkflowMetrics) ObserveRunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

func (m *WorkflowMetrics) ObserveRunCompleted(terminalState, errorKind string) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(terminalState, errorKind).Inc()
}

func (m *WorkflowMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) ObserveStage(stage string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.stageLatency.WithLabelValues(stage, status).Observe(seconds)
}

func (m *WorkflowMetrics) ObserveEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
