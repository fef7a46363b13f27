package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// DefaultHistorySize bounds the failure history kept by a Coordinator.
const DefaultHistorySize = 100

// Sentinel errors returned by Coordinator.Execute.
var (
	// ErrApprovalRequired indicates the action needs operator approval
	// (Action.Approve) before it may run.
	ErrApprovalRequired = errors.New("recovery action requires approval")

	// ErrNotRecoverable indicates the failure is fatal.
	ErrNotRecoverable = errors.New("failure is not recoverable")

	// ErrNoEngine indicates no engine can execute the action.
	ErrNoEngine = errors.New("no recovery engine for action")

	// ErrNoRollbackPoint indicates a rollback without a checkpoint to return to.
	ErrNoRollbackPoint = errors.New("rollback action has no rollback point")
)

// Rollbacker restores a checkpoint. *checkpoint.Manager implements it.
type Rollbacker interface {
	Rollback(ctx context.Context, id string) (*checkpoint.State, error)
}

// Coordinator dispatches failures to engines and executes chosen actions.
type Coordinator struct {
	engines    []Engine
	rollbacker Rollbacker
	logger     *slog.Logger
	now        func() time.Time
	maxHistory int

	mu         sync.Mutex
	history    []fault.Context
	onError    []func(fault.Context)
	onRecovery []func(Action, bool)
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithEngines replaces the default engine set.
func WithEngines(engines ...Engine) CoordinatorOption {
	return func(c *Coordinator) {
		c.engines = engines
	}
}

// WithRollbacker sets where rollback actions are executed.
func WithRollbacker(r Rollbacker) CoordinatorOption {
	return func(c *Coordinator) {
		c.rollbacker = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithHistorySize sets how many failures are kept for Statistics.
func WithHistorySize(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithClock overrides the time source used by Statistics.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator. Without WithEngines it runs the
// I/O, integrity and network engines.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		logger:     slog.Default(),
		now:        time.Now,
		maxHistory: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engines == nil {
		c.engines = DefaultEngines(WithEngineLogger(c.logger))
	}
	return c
}

// DefaultEngines returns the built-in engines.
func DefaultEngines(opts ...EngineOption) []Engine {
	return []Engine{
		NewIOEngine(opts...),
		NewIntegrityEngine(opts...),
		NewNetworkEngine(opts...),
	}
}

// OnError registers a callback invoked for every analyzed failure.
func (c *Coordinator) OnError(fn func(fault.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// OnRecovery registers a callback invoked after every executed action with
// its outcome.
func (c *Coordinator) OnRecovery(fn func(Action, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRecovery = append(c.onRecovery, fn)
}

// Analyze records the failure and returns the proposals of every engine
// that can handle it, sorted by descending confidence.
func (c *Coordinator) Analyze(fc fault.Context) []Action {
	c.mu.Lock()
	c.history = append(c.history, fc)
	if len(c.history) > c.maxHistory {
		c.history = slices.Clone(c.history[len(c.history)-c.maxHistory:])
	}
	callbacks := slices.Clone(c.onError)
	c.mu.Unlock()

	for _, fn := range callbacks {
		c.safeCall("error", func() { fn(fc) })
	}

	var actions []Action
	for _, e := range c.engines {
		if !e.CanHandle(fc) {
			continue
		}
		proposed := e.Analyze(fc)
		c.logger.Debug("engine proposed actions",
			slog.String("engine", e.Name()),
			slog.Int("count", len(proposed)),
		)
		actions = append(actions, proposed...)
	}
	SortActions(actions)

	c.logger.Info("recovery actions proposed",
		slog.String("kind", fc.Kind),
		slog.String("phase", fc.Phase.String()),
		slog.String("severity", fc.Severity.String()),
		slog.Int("retry_count", fc.RetryCount),
		slog.Int("actions", len(actions)),
	)
	return actions
}

// Execute runs an action for fc and reports whether the operation should
// be attempted again.
//
// Fatal failures are refused. Critical failures and actions that require
// approval are refused unless the action was approved.
func (c *Coordinator) Execute(ctx context.Context, a Action, fc fault.Context) (bool, error) {
	if fc.Severity == fault.SeverityFatal {
		return false, ErrNotRecoverable
	}
	if (a.RequiresApproval || fc.Severity == fault.SeverityCritical) && !a.Approved {
		return false, fmt.Errorf("%w: %s", ErrApprovalRequired, a)
	}

	c.logger.Info("executing recovery action",
		slog.String("strategy", a.Strategy.String()),
		slog.String("engine", a.Engine),
		slog.String("description", a.Description),
	)

	ok, err := c.execute(ctx, a, fc)

	c.mu.Lock()
	callbacks := slices.Clone(c.onRecovery)
	c.mu.Unlock()
	for _, fn := range callbacks {
		c.safeCall("recovery", func() { fn(a, ok) })
	}

	if ok {
		c.logger.Info("recovery action completed", slog.String("strategy", a.Strategy.String()))
	} else {
		attrs := []any{slog.String("strategy", a.Strategy.String())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		c.logger.Warn("recovery action did not resolve the failure", attrs...)
	}
	return ok, err
}

func (c *Coordinator) execute(ctx context.Context, a Action, fc fault.Context) (bool, error) {
	if a.Strategy == StrategyRollback {
		if a.RollbackPoint == "" {
			return false, ErrNoRollbackPoint
		}
		if c.rollbacker == nil {
			return false, fmt.Errorf("%w: no checkpoint manager", ErrNoEngine)
		}
		if _, err := c.rollbacker.Rollback(ctx, a.RollbackPoint); err != nil {
			return false, fmt.Errorf("rollback to %s: %w", a.RollbackPoint, err)
		}
		return true, nil
	}

	engine := c.engineFor(a, fc)
	if engine == nil {
		return false, fmt.Errorf("%w: %s", ErrNoEngine, a)
	}
	return engine.Execute(ctx, a, fc)
}

// engineFor returns the proposing engine, or the first engine that can
// handle fc for actions built outside the coordinator.
func (c *Coordinator) engineFor(a Action, fc fault.Context) Engine {
	for _, e := range c.engines {
		if e.Name() == a.Engine {
			return e
		}
	}
	for _, e := range c.engines {
		if e.CanHandle(fc) {
			return e
		}
	}
	return nil
}

func (c *Coordinator) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovery callback panicked",
				slog.String("callback", kind),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

// History returns the recorded failures, oldest first.
func (c *Coordinator) History() []fault.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Statistics summarizes the failure history.
type Statistics struct {
	Total      int            `json:"total_errors"`
	ByKind     map[string]int `json:"error_types"`
	BySeverity map[string]int `json:"severity_distribution"`
	ByPhase    map[string]int `json:"phase_distribution"`

	// LastHour counts failures recorded within the past hour.
	LastHour int `json:"recent_errors"`
}

// Statistics returns counts over the failure history.
func (c *Coordinator) Statistics() Statistics {
	history := c.History()
	stats := Statistics{
		Total:      len(history),
		ByKind:     make(map[string]int),
		BySeverity: make(map[string]int),
		ByPhase:    make(map[string]int),
	}

	cutoff := c.now().Add(-time.Hour)
	for _, fc := range history {
		stats.ByKind[fc.Kind]++
		stats.BySeverity[fc.Severity.String()]++
		stats.ByPhase[fc.Phase.String()]++
		if fc.Timestamp.After(cutoff) {
			stats.LastHour++
		}
	}
	return stats
}
