// Package observability provides structured logging helpers, metrics and
// tracing for diskforge write operations.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/randalmurphal/diskforge/pkg/diskforge/recovery"
)

// EnrichLogger adds operation context to a logger.
// Returns a new logger with operation_id, device and phase fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "op-1a2b3c4d", "/dev/sdb", fault.PhaseWriting)
//	enriched.Info("doing work") // includes operation_id, device, phase
func EnrichLogger(logger *slog.Logger, opID, device string, phase fault.Phase) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("operation_id", opID),
		slog.String("device", device),
		slog.String("phase", phase.String()),
	)
}

// LogWriteStart logs the start of a write operation.
func LogWriteStart(logger *slog.Logger, opID, source, target string, sizeBytes int64) {
	if logger == nil {
		return
	}
	logger.Info("write operation starting",
		slog.String("operation_id", opID),
		slog.String("source", source),
		slog.String("target", target),
		slog.Int64("size_bytes", sizeBytes),
		slog.String("size", humanize.IBytes(uint64(max(sizeBytes, 0)))),
	)
}

// LogWriteComplete logs successful completion.
func LogWriteComplete(logger *slog.Logger, opID string, bytesWritten int64, duration time.Duration, attempts int) {
	if logger == nil {
		return
	}
	logger.Info("write operation completed",
		slog.String("operation_id", opID),
		slog.Int64("bytes_written", bytesWritten),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("throughput", throughput(bytesWritten, duration)),
		slog.Int("attempts", attempts),
	)
}

// LogWriteError logs a terminal failure.
func LogWriteError(logger *slog.Logger, opID string, err error, phase fault.Phase, bytesWritten int64) {
	if logger == nil {
		return
	}
	logger.Error("write operation failed",
		slog.String("operation_id", opID),
		slog.String("error", err.Error()),
		slog.String("phase", phase.String()),
		slog.Int64("bytes_written", bytesWritten),
	)
}

// LogFailure logs a classified failure before recovery is attempted.
func LogFailure(logger *slog.Logger, fc fault.Context) {
	if logger == nil {
		return
	}
	logger.Warn("write failure classified",
		slog.String("operation_id", fc.OperationID),
		slog.String("kind", fc.Kind),
		slog.String("phase", fc.Phase.String()),
		slog.String("severity", fc.Severity.String()),
		slog.Int("retry_count", fc.RetryCount),
		slog.String("error", fc.Message),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, checkpointID string, phase fault.Phase) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("checkpoint_id", checkpointID),
		slog.String("phase", phase.String()),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, checkpointID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("checkpoint_id", checkpointID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogRecovery logs the outcome of a recovery action.
func LogRecovery(logger *slog.Logger, opID string, action recovery.Action, attempt int, resolved bool) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if !resolved {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "recovery action executed",
		slog.String("operation_id", opID),
		slog.String("strategy", action.Strategy.String()),
		slog.String("engine", action.Engine),
		slog.Float64("confidence", action.Confidence),
		slog.Int("attempt", attempt),
		slog.Bool("resolved", resolved),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

func throughput(n int64, d time.Duration) string {
	if d <= 0 || n <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(float64(n)/d.Seconds())) + "/s"
}
