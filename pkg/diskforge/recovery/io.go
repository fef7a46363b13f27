package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// IOEngine handles device and file I/O failures.
type IOEngine struct {
	engineBase
	maxRetries int
	delays     []time.Duration
}

var _ Engine = (*IOEngine)(nil)

// NewIOEngine creates the I/O recovery engine: up to 3 retries at 1s, 3s
// and 5s.
func NewIOEngine(opts ...EngineOption) *IOEngine {
	return &IOEngine{
		engineBase: newEngineBase("io", []string{
			"PermissionError", "IOError", "OSError", "DiskError",
			"WriteError", "ReadError", "DeviceError",
		}, opts),
		maxRetries: 3,
		delays:     []time.Duration{time.Second, 3 * time.Second, 5 * time.Second},
	}
}

// Analyze implements Engine.
func (e *IOEngine) Analyze(fc fault.Context) []Action {
	var actions []Action

	if fc.RetryCount < e.maxRetries {
		actions = append(actions, e.action(StrategyRetry,
			fmt.Sprintf("Retry operation (attempt %d/%d)", fc.RetryCount+1, e.maxRetries),
			0.8-0.2*float64(fc.RetryCount),
			retryDelay(e.delays, fc.RetryCount),
		))
	}

	if strings.Contains(fc.Kind, "Permission") {
		a := e.action(StrategyUserIntervention, "Elevate permissions or run as administrator", 0.9, 0)
		a.RequiresApproval = true
		actions = append(actions, a)
	}

	if fc.Phase.Destructive() && fc.Checkpoint != "" {
		a := e.action(StrategyRollback, "Rollback to last checkpoint and rewrite", 0.7, 10*time.Second)
		a.RequiresApproval = true
		a.RollbackPoint = fc.Checkpoint
		actions = append(actions, a)
	}

	return actions
}
