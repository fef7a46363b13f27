package diskforge

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/config"
	"github.com/randalmurphal/diskforge/pkg/diskforge/device"
	"github.com/randalmurphal/diskforge/pkg/diskforge/observability"
	"github.com/randalmurphal/diskforge/pkg/diskforge/writer"
)

// FromSettings builds an orchestrator with the platform classifier,
// unmounter, writer and checkpoint store described by s. Options are
// applied after the ones derived from s. The returned function closes
// the checkpoint store.
//
// Metrics and tracing use the global OpenTelemetry providers when enabled.
func FromSettings(s config.Settings, logger *slog.Logger, opts ...Option) (*Orchestrator, func() error, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	classifier := device.NewClassifier(
		device.WithAllowSystemDrive(s.Orchestrator.AllowSystemDrive),
		device.WithLogger(logger),
	)
	w := writer.New(classifier,
		writer.WithConfig(s.Writer.Config()),
		writer.WithUnmounter(device.NewCommandUnmounter(device.NewInspector(), logger)),
		writer.WithLogger(logger),
	)

	store, err := s.Checkpoint.OpenStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	cps := checkpoint.NewManager(store,
		checkpoint.WithCapturer(s.Checkpoint.Capturer()),
		checkpoint.WithLogger(logger),
	)

	base := []Option{
		WithLogger(logger),
		WithMaxAttempts(s.Orchestrator.MaxAttempts),
		WithMaxConcurrent(s.Orchestrator.MaxConcurrent),
		WithCheckpointMaxAge(s.Checkpoint.MaxAge),
		WithProgressBuffer(s.Writer.Config().ProgressBuffer),
	}
	if s.Observability.Metrics {
		base = append(base, WithMetrics(observability.NewMetricsRecorder()))
	}
	if s.Observability.Tracing {
		base = append(base, WithSpanManager(observability.NewSpanManager()))
	}

	return New(w, cps, append(base, opts...)...), store.Close, nil
}
