package sched

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startTaskSpan opens a span covering a task's dispatch, if a tracer is
// configured. It returns the (possibly unchanged) context and a finish
// function that records the outcome and closes the span; when no tracer
// is configured, finish is a no-op.
func startTaskSpan(ctx context.Context, tracer trace.Tracer, t *Task, priority int) (context.Context, func(err error)) {
	if tracer == nil {
		return ctx, func(error) {}
	}

	ctx, span := tracer.Start(ctx, "psched.task",
		trace.WithAttributes(
			attribute.String("psched.task_id", t.ID),
			attribute.Int("psched.priority", priority),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
