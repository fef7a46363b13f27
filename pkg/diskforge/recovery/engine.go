package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// Engine proposes and executes recovery actions for a family of failures.
type Engine interface {
	// Name identifies the engine in Action.Engine and logs.
	Name() string

	// CanHandle reports whether the engine has anything to say about fc.
	CanHandle(fc fault.Context) bool

	// Analyze proposes actions for fc. It has no side effects.
	Analyze(fc fault.Context) []Action

	// Execute performs the engine's part of an action. It reports whether
	// the operation should be attempted again.
	Execute(ctx context.Context, a Action, fc fault.Context) (bool, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EngineOption configures the built-in engines.
type EngineOption func(*engineBase)

// WithSleeper replaces the retry wait. Tests use it to avoid real delays.
func WithSleeper(s Sleeper) EngineOption {
	return func(b *engineBase) {
		b.sleep = s
	}
}

// WithEngineLogger sets the engine logger. Default: slog.Default().
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(b *engineBase) {
		b.logger = logger
	}
}

// engineBase holds what the built-in engines share: identity, the retry
// wait, and the default Execute behavior.
type engineBase struct {
	name   string
	kinds  []string
	sleep  Sleeper
	logger *slog.Logger
}

func newEngineBase(name string, kinds []string, opts []EngineOption) engineBase {
	b := engineBase{
		name:   name,
		kinds:  kinds,
		sleep:  SleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *engineBase) Name() string {
	return b.name
}

func (b *engineBase) CanHandle(fc fault.Context) bool {
	return fault.MatchesAny(fc.Kind, b.kinds...)
}

func (b *engineBase) action(s Strategy, desc string, confidence float64, est time.Duration) Action {
	return Action{
		Strategy:      s,
		Description:   desc,
		Confidence:    clamp(confidence),
		EstimatedTime: est,
		Engine:        b.name,
	}
}

// Execute waits out retry delays and accepts alternatives and rollbacks.
// User intervention and abort never lead to another attempt.
func (b *engineBase) Execute(ctx context.Context, a Action, fc fault.Context) (bool, error) {
	switch a.Strategy {
	case StrategyRetry:
		b.logger.Info("retrying after delay",
			slog.String("engine", b.name),
			slog.String("kind", fc.Kind),
			slog.Int("retry_count", fc.RetryCount),
			slog.Duration("delay", a.EstimatedTime),
		)
		if err := b.sleep(ctx, a.EstimatedTime); err != nil {
			return false, err
		}
		return true, nil
	case StrategyAlternative:
		b.logger.Info("switching to alternative method",
			slog.String("engine", b.name),
			slog.Any("params", a.AlternativeParams),
		)
		return true, nil
	case StrategyRollback:
		return true, nil
	case StrategyUserIntervention:
		b.logger.Info("operator action required",
			slog.String("engine", b.name),
			slog.String("action", a.Description),
		)
		return false, nil
	default:
		return false, nil
	}
}

// retryDelay picks the delay for the given retry count from a fixed
// schedule, repeating the last entry once the schedule runs out.
func retryDelay(schedule []time.Duration, retryCount int) time.Duration {
	return schedule[min(max(retryCount, 0), len(schedule)-1)]
}
