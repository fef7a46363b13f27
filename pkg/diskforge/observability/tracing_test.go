package observability

import (
	"context"
	"testing"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest creates a span manager with an in-memory span recorder.
func setupTracingTest(t *testing.T) (SpanManager, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})
	return NewSpanManagerWithProvider(tp), exporter
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartOperationSpan(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	ctx, span := sm.StartOperationSpan(context.Background(), "op-1", "image.iso", "/dev/sdb")
	require.NotNil(t, span)
	assert.Equal(t, span, trace.SpanFromContext(ctx))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "diskforge.write", s.Name)
	assert.Equal(t, codes.Ok, s.Status.Code)

	v, ok := attrValue(s.Attributes, "operation.id")
	require.True(t, ok)
	assert.Equal(t, "op-1", v.AsString())
	v, ok = attrValue(s.Attributes, "write.target")
	require.True(t, ok)
	assert.Equal(t, "/dev/sdb", v.AsString())
}

func TestStartAttemptSpan_IsChild(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	ctx, parent := sm.StartOperationSpan(context.Background(), "op-1", "a", "b")
	_, child := sm.StartAttemptSpan(ctx, 2)
	sm.EndSpanWithError(child, nil)
	sm.EndSpanWithError(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "diskforge.attempt", spans[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	v, ok := attrValue(spans[0].Attributes, "attempt")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())
}

func TestEndSpanWithError(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	_, span := sm.StartAttemptSpan(context.Background(), 1)
	err := fault.Wrap(fault.PhaseVerification, "verify", "/dev/sdb", &fault.MismatchError{Offset: 3})
	sm.EndSpanWithError(span, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, codes.Error, s.Status.Code)
	assert.Equal(t, err.Error(), s.Status.Description)
	require.NotEmpty(t, s.Events, "error recorded as event")

	v, ok := attrValue(s.Attributes, "fault.phase")
	require.True(t, ok)
	assert.Equal(t, "verification", v.AsString())
	v, ok = attrValue(s.Attributes, "fault.kind")
	require.True(t, ok)
	assert.Equal(t, "IntegrityError", v.AsString())

	assert.NotPanics(t, func() { EndSpanWithError(nil, err) })
}

func TestAddSpanEvent(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	ctx, span := sm.StartOperationSpan(context.Background(), "op-1", "a", "b")
	sm.AddSpanEvent(ctx, "checkpoint.created", attribute.String("checkpoint.id", "op-1-writing"))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "checkpoint.created", spans[0].Events[0].Name)

	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "no span")
	})
}

func TestNewSpanManager_GlobalProvider(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("diskforge")
	defer func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("diskforge")
		_ = tp.Shutdown(context.Background())
	}()

	sm := NewSpanManager()
	_, span := sm.StartOperationSpan(context.Background(), "op-1", "a", "b")
	sm.EndSpanWithError(span, nil)
	assert.Len(t, exporter.GetSpans(), 1)
}
