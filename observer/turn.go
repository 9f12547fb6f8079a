package observer

import (
	"context"
	"time"

	lore "github.com/nevindra/lore"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TurnRunner is the slice of the assistant surface the turn wrapper needs.
// *lore.Assistant satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, req lore.TurnRequest) (lore.TurnResult, error)
}

// ObservedTurns wraps a TurnRunner to emit OTEL lifecycle spans, metrics, and
// logs. The wrapper creates a parent span for each RunTurn call that contains
// all inner operations (LLM calls, tool executions, etc.) as child spans via
// context propagation.
type ObservedTurns struct {
	inner TurnRunner
	inst  *Instruments
}

// WrapTurns returns an instrumented turn runner that emits lifecycle telemetry.
func WrapTurns(inner TurnRunner, inst *Instruments) *ObservedTurns {
	return &ObservedTurns{inner: inner, inst: inst}
}

// RunTurn wraps the inner RunTurn, emitting a turn.run span that serves as
// the parent for all inner operations.
func (o *ObservedTurns) RunTurn(ctx context.Context, req lore.TurnRequest) (lore.TurnResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "turn.run", trace.WithAttributes(
		AttrConversationUID.String(req.ConversationUID),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("turn.started")

	result, err := o.inner.RunTurn(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("turn.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("turn.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("turn.completed")
	}

	span.SetAttributes(
		AttrTurnStatus.String(status),
		attribute.Int("turn.fragment_count", len(result.Fragments)),
		attribute.Int("turn.answer_length", len(result.Answer)),
	)

	attrs := metric.WithAttributes(
		attribute.String("status", status),
	)
	o.inst.TurnExecutions.Add(ctx, 1, attrs)
	o.inst.TurnDuration.Record(ctx, durationMs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("turn completed"))
	rec.AddAttributes(
		otellog.String("conversation.uid", req.ConversationUID),
		otellog.String("turn.status", status),
		otellog.Int("turn.fragment_count", len(result.Fragments)),
		otellog.Int("turn.answer_length", len(result.Answer)),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

// compile-time check
var _ TurnRunner = (*ObservedTurns)(nil)
