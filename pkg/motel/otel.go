// Package motel wraps OpenTelemetry tracing the way the teacher's
// mopentelemetry package does: a tracer carried on context, a span-per-call
// convention, and a single HandleSpanError helper every fallible command
// calls on its way out.
package motel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracerContextKey string

const tracerKey tracerContextKey = "motel.tracer"

// ContextWithTracer stores a tracer on the context.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// NewTracerFromContext returns the tracer stored on ctx, falling back to the
// global tracer provider's "casecore" tracer if none was set.
func NewTracerFromContext(ctx context.Context) trace.Tracer {
	if tracer, ok := ctx.Value(tracerKey).(trace.Tracer); ok && tracer != nil {
		return tracer
	}

	return otel.Tracer("casecore")
}

// HandleSpanError records err on span and marks it as failed. It is a no-op
// if err is nil.
func HandleSpanError(span *trace.Span, message string, err error) {
	if err == nil || span == nil {
		return
	}

	(*span).SetStatus(codes.Error, message+": "+err.Error())
	(*span).RecordError(err)
}
