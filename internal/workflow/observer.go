package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/repassist-platform/internal/observability/metrics"
)

// StageInfo identifies one stage invocation for observers.
type StageInfo struct {
	Stage          State
	ConversationID string
	RunID          string
	Attempt        int
}

// Observer wraps every stage invocation so tracing/metrics backends stay
// swappable without coupling to the engine.
type Observer interface {
	StageStart(ctx context.Context, info StageInfo) context.Context
	StageFinish(ctx context.Context, info StageInfo, err error, elapsed time.Duration)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) StageStart(ctx context.Context, _ StageInfo) context.Context { return ctx }
func (NopObserver) StageFinish(context.Context, StageInfo, error, time.Duration) {
}

// MultiObserver fans stage callbacks out to several observers.
type MultiObserver []Observer

func (m MultiObserver) StageStart(ctx context.Context, info StageInfo) context.Context {
	for _, o := range m {
		ctx = o.StageStart(ctx, info)
	}
	return ctx
}

func (m MultiObserver) StageFinish(ctx context.Context, info StageInfo, err error, elapsed time.Duration) {
	for _, o := range m {
		o.StageFinish(ctx, info, err, elapsed)
	}
}

var workflowTracer = otel.Tracer("repassist.internal.workflow")

type otelSpanKey struct{}

// OTelObserver opens a span per stage with run attributes.
type OTelObserver struct{}

func (OTelObserver) StageStart(ctx context.Context, info StageInfo) context.Context {
	ctx, span := workflowTracer.Start(ctx, "workflow."+string(info.Stage))
	span.SetAttributes(
		attribute.String("repassist.conversation_id", info.ConversationID),
		attribute.String("repassist.run_id", info.RunID),
		attribute.Int("repassist.attempt", info.Attempt),
	)
	return context.WithValue(ctx, otelSpanKey{}, span)
}

func (OTelObserver) StageFinish(ctx context.Context, _ StageInfo, err error, _ time.Duration) {
	span, ok := ctx.Value(otelSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("repassist.error_kind", KindOf(err)))
	}
	span.End()
}

// MetricsObserver records stage latency on the prometheus collectors.
type MetricsObserver struct {
	Metrics *metrics.WorkflowMetrics
}

func (o MetricsObserver) StageStart(ctx context.Context, _ StageInfo) context.Context { return ctx }

func (o MetricsObserver) StageFinish(_ context.Context, info StageInfo, err error, elapsed time.Duration) {
	o.Metrics.ObserveStage(string(info.Stage), elapsed.Seconds(), err != nil)
}
