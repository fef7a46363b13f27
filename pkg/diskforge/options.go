package diskforge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/randalmurphal/diskforge/pkg/diskforge/observability"
	"github.com/randalmurphal/diskforge/pkg/diskforge/recovery"
)

// DefaultMaxAttempts bounds the write attempts of one operation.
const DefaultMaxAttempts = 8

// Approver decides on recovery actions that may not run automatically:
// every action for a Critical failure, and approval-gated actions once no
// automatic option is left. It returns the chosen action and true, or
// false to give up. The returned action is marked approved.
type Approver interface {
	Approve(ctx context.Context, fc fault.Context, actions []recovery.Action) (recovery.Action, bool)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, fc fault.Context, actions []recovery.Action) (recovery.Action, bool)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, fc fault.Context, actions []recovery.Action) (recovery.Action, bool) {
	return f(ctx, fc, actions)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCoordinator sets the recovery coordinator.
// Default: the built-in engines with rollback through the checkpoint manager.
func WithCoordinator(c *recovery.Coordinator) Option {
	return func(o *Orchestrator) {
		o.coord = c
	}
}

// WithApprover sets the approver for gated recovery actions.
// Without one, failures that need approval end the operation.
func WithApprover(a Approver) Option {
	return func(o *Orchestrator) {
		o.approver = a
	}
}

// WithMetrics enables metrics recording.
// Default: no metrics.
//
// Example:
//
//	orch := diskforge.New(w, cps, diskforge.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpanManager enables tracing.
// Default: no spans.
func WithSpanManager(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithMaxAttempts sets the maximum number of write attempts per operation.
// Default: 8
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMaxConcurrent caps the number of writes running at once across all
// devices. Operations over the cap wait in the background. 0 means no cap.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrent = max(n, 0)
	}
}

// WithCheckpointMaxAge makes every finished operation clean up checkpoints
// older than d. 0 disables cleanup.
func WithCheckpointMaxAge(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.maxAge = max(d, 0)
	}
}

// WithIDGenerator overrides how operation IDs are generated.
// IDs become checkpoint ID prefixes, so they must be valid checkpoint IDs.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithProgressBuffer sets the capacity of each operation's progress channel.
func WithProgressBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.progressBuffer = n
		}
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func newOperationID() string {
	return "op-" + uuid.NewString()[:8]
}
