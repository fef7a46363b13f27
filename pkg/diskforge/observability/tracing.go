package observability

import (
	"context"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the diskforge tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("diskforge")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartOperationSpan starts a span for a whole write operation,
	// recovery attempts included.
	StartOperationSpan(ctx context.Context, opID, source, target string) (context.Context, trace.Span)

	// StartAttemptSpan starts a child span for one writer run.
	StartAttemptSpan(ctx context.Context, attempt int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// NewSpanManagerWithProvider returns a SpanManager on an explicit provider.
func NewSpanManagerWithProvider(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer("diskforge")}
}

func (m *otelSpanManager) t() trace.Tracer {
	if m.tracer != nil {
		return m.tracer
	}
	return tracer
}

// StartOperationSpan starts a span for a whole write operation.
func (m *otelSpanManager) StartOperationSpan(ctx context.Context, opID, source, target string) (context.Context, trace.Span) {
	return m.t().Start(ctx, "diskforge.write",
		trace.WithAttributes(
			attribute.String("operation.id", opID),
			attribute.String("write.source", source),
			attribute.String("write.target", target),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartAttemptSpan starts a span for one writer run.
func (m *otelSpanManager) StartAttemptSpan(ctx context.Context, attempt int) (context.Context, trace.Span) {
	return m.t().Start(ctx, "diskforge.attempt",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
// Errors tagged with a phase also set the fault.phase attribute.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetAttributes(
			attribute.String("fault.kind", fault.KindOf(err)),
			attribute.String("fault.phase", fault.PhaseOf(err, fault.PhasePreparation).String()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
