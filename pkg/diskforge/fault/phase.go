// Package fault classifies failures of a device write operation.
//
// The package provides the error taxonomy used by the recovery layer:
//   - Phases: where in the write pipeline a failure happened
//   - Kinds: what went wrong, as a short tag such as "PermissionError"
//   - Severity: a pure function of (kind, phase)
//   - Context: the immutable record of one failure handed to recovery engines
package fault

import (
	"fmt"
	"strings"
)

// Phase identifies a step of a storage deployment operation.
type Phase int

const (
	PhasePreparation Phase = iota
	PhaseValidation
	PhaseBackup
	PhasePartitioning
	PhaseFormatting
	PhaseWriting
	PhaseVerification
	PhaseCleanup
)

var phaseNames = [...]string{
	PhasePreparation:  "preparation",
	PhaseValidation:   "validation",
	PhaseBackup:       "backup",
	PhasePartitioning: "partitioning",
	PhaseFormatting:   "formatting",
	PhaseWriting:      "writing",
	PhaseVerification: "verification",
	PhaseCleanup:      "cleanup",
}

// Phases lists every phase in pipeline order.
func Phases() []Phase {
	return []Phase{
		PhasePreparation, PhaseValidation, PhaseBackup, PhasePartitioning,
		PhaseFormatting, PhaseWriting, PhaseVerification, PhaseCleanup,
	}
}

// String returns the phase name.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Destructive reports whether the phase modifies the target device.
// A destructive phase must be preceded by a persisted checkpoint.
func (p Phase) Destructive() bool {
	switch p {
	case PhasePartitioning, PhaseFormatting, PhaseWriting:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(phaseNames) {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(phaseNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase returns the phase with the given name (case-insensitive).
func ParsePhase(name string) (Phase, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// Severity ranks how a failure should be handled.
type Severity int

const (
	// SeverityWarning is the default for failures no marker set matches.
	SeverityWarning Severity = iota

	// SeverityRecoverable failures are retried automatically.
	// Examples: I/O hiccups, timeouts, network errors.
	SeverityRecoverable

	// SeverityCritical failures hit a destructive phase and need operator
	// approval before any recovery action runs.
	SeverityCritical

	// SeverityFatal failures are never retried.
	SeverityFatal
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityRecoverable:
		return "recoverable"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
