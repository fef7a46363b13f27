// Package recovery proposes and executes recovery actions for failed device
// operations.
//
// Each Engine handles a family of failure kinds and proposes ranked Actions
// for a fault.Context. The Coordinator asks every matching engine, sorts the
// combined proposals by confidence, and executes the one the caller picks:
// rollbacks through the checkpoint manager, everything else through the
// engine that proposed it.
package recovery

import (
	"slices"
	"strings"
	"time"
)

// Strategy is the kind of recovery an Action performs.
type Strategy int

const (
	// StrategyRetry repeats the failed operation after a delay.
	StrategyRetry Strategy = iota

	// StrategyRollback restores a checkpoint and rewrites from it.
	StrategyRollback

	// StrategyAlternative repeats the operation with different parameters.
	StrategyAlternative

	// StrategyUserIntervention needs an operator to act outside the program.
	StrategyUserIntervention

	// StrategyAbort stops the operation.
	StrategyAbort
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyRollback:
		return "rollback"
	case StrategyAlternative:
		return "alternative"
	case StrategyUserIntervention:
		return "user_intervention"
	case StrategyAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Alternative parameter keys and values understood by the writer.
const (
	ParamVerifyMethod  = "verify_method"
	ParamWriteStrategy = "write_strategy"
	ParamUseMirror     = "use_mirror"

	VerifyMethodCompare = "compare"
	WriteStrategySafe   = "safe"
)

// Action is one proposed recovery step.
type Action struct {
	Strategy    Strategy `json:"strategy"`
	Description string   `json:"description"`

	// Confidence is the estimated probability in [0,1] that the action
	// resolves the failure.
	Confidence float64 `json:"confidence"`

	// EstimatedTime is the expected duration. For retries it is the delay
	// before the next attempt.
	EstimatedTime time.Duration `json:"estimated_time"`

	RequiresApproval bool `json:"requires_approval"`

	// Approved is set by the caller once an operator has accepted the action.
	Approved bool `json:"approved,omitempty"`

	RollbackPoint     string            `json:"rollback_point,omitempty"`
	AlternativeParams map[string]string `json:"alternative_params,omitempty"`

	// Engine names the engine that proposed the action.
	Engine string `json:"engine"`
}

// Approve returns a copy of the action marked as operator-approved.
func (a Action) Approve() Action {
	a.Approved = true
	return a
}

// String returns a short description for logs.
func (a Action) String() string {
	var b strings.Builder
	b.WriteString(a.Strategy.String())
	if a.Description != "" {
		b.WriteString(": ")
		b.WriteString(a.Description)
	}
	return b.String()
}

// SortActions orders actions by descending confidence. Equal confidences
// keep their proposal order.
func SortActions(actions []Action) {
	slices.SortStableFunc(actions, func(a, b Action) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})
}

// clamp keeps a confidence inside [0,1].
func clamp(c float64) float64 {
	return min(max(c, 0), 1)
}
