package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records diskforge metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordWrite records a finished write operation. outcome is the
	// terminal writer state ("completed", "failed", "cancelled").
	RecordWrite(ctx context.Context, outcome string, bytesWritten int64, duration time.Duration)

	// RecordVerification records a verification pass.
	RecordVerification(ctx context.Context, duration time.Duration, err error)

	// RecordFailure records a classified failure.
	RecordFailure(ctx context.Context, kind, severity string)

	// RecordRecovery records an executed recovery action.
	RecordRecovery(ctx context.Context, strategy string, resolved bool)

	// RecordCheckpoint records a checkpoint save.
	RecordCheckpoint(ctx context.Context, phase string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	writes         metric.Int64Counter
	bytesWritten   metric.Int64Counter
	writeLatency   metric.Float64Histogram
	verifications  metric.Int64Counter
	verifyLatency  metric.Float64Histogram
	failures       metric.Int64Counter
	recoveries     metric.Int64Counter
	checkpointSize metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("diskforge"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	writes, err := meter.Int64Counter("diskforge.write.operations",
		metric.WithDescription("Number of finished write operations"),
	)
	if err != nil {
		return nil, err
	}

	bytesWritten, err := meter.Int64Counter("diskforge.write.bytes",
		metric.WithDescription("Bytes written to target devices"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	writeLatency, err := meter.Float64Histogram("diskforge.write.latency_ms",
		metric.WithDescription("Write operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	verifications, err := meter.Int64Counter("diskforge.verify.operations",
		metric.WithDescription("Number of verification passes"),
	)
	if err != nil {
		return nil, err
	}

	verifyLatency, err := meter.Float64Histogram("diskforge.verify.latency_ms",
		metric.WithDescription("Verification latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("diskforge.failures",
		metric.WithDescription("Number of classified failures"),
	)
	if err != nil {
		return nil, err
	}

	recoveries, err := meter.Int64Counter("diskforge.recovery.actions",
		metric.WithDescription("Number of executed recovery actions"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("diskforge.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		writes:         writes,
		bytesWritten:   bytesWritten,
		writeLatency:   writeLatency,
		verifications:  verifications,
		verifyLatency:  verifyLatency,
		failures:       failures,
		recoveries:     recoveries,
		checkpointSize: checkpointSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderWithProvider returns a recorder on an explicit provider.
func NewMetricsRecorderWithProvider(provider metric.MeterProvider) MetricsRecorder {
	m, err := newOtelMetrics(provider.Meter("diskforge"))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordWrite records a finished write operation.
func (m *otelMetrics) RecordWrite(ctx context.Context, outcome string, bytesWritten int64, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.writes.Add(ctx, 1, attrs)
	m.bytesWritten.Add(ctx, bytesWritten)
	m.writeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordVerification records a verification pass.
func (m *otelMetrics) RecordVerification(ctx context.Context, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.verifications.Add(ctx, 1, attrs)
	m.verifyLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordFailure records a classified failure.
func (m *otelMetrics) RecordFailure(ctx context.Context, kind, severity string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("severity", severity),
	))
}

// RecordRecovery records an executed recovery action.
func (m *otelMetrics) RecordRecovery(ctx context.Context, strategy string, resolved bool) {
	m.recoveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("resolved", resolved),
	))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, phase string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("phase", phase)))
}
