package recovery

import (
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// IntegrityEngine handles verification and checksum failures.
type IntegrityEngine struct {
	engineBase
}

var _ Engine = (*IntegrityEngine)(nil)

// NewIntegrityEngine creates the integrity recovery engine.
func NewIntegrityEngine(opts ...EngineOption) *IntegrityEngine {
	return &IntegrityEngine{
		engineBase: newEngineBase("integrity", []string{
			"ChecksumError", "HashMismatch", "CorruptionError",
			"IntegrityError", "VerificationError",
		}, opts),
	}
}

// Analyze implements Engine.
func (e *IntegrityEngine) Analyze(fc fault.Context) []Action {
	var actions []Action

	switch fc.Phase {
	case fault.PhaseVerification:
		alt := e.action(StrategyAlternative, "Re-verify with byte-for-byte comparison", 0.8, 5*time.Second)
		alt.AlternativeParams = map[string]string{ParamVerifyMethod: VerifyMethodCompare}
		actions = append(actions, alt)

		if fc.Checkpoint != "" {
			rb := e.action(StrategyRollback, "Rewrite data from the clean source", 0.7, 30*time.Second)
			rb.RequiresApproval = true
			rb.RollbackPoint = fc.Checkpoint
			actions = append(actions, rb)
		}
	case fault.PhaseWriting:
		alt := e.action(StrategyAlternative, "Retry with slower, more reliable write method", 0.85, time.Minute)
		alt.AlternativeParams = map[string]string{ParamWriteStrategy: WriteStrategySafe}
		actions = append(actions, alt)
	}

	return actions
}
