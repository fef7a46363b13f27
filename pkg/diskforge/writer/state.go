package writer

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a write.
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateUnmounting
	StateWriting
	StateVerifying
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateValidating: "validating",
	StateUnmounting: "unmounting",
	StateWriting:    "writing",
	StateVerifying:  "verifying",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Strategy selects how data is written to the target.
type Strategy int

const (
	// StrategyStandard writes BufferSize chunks and syncs every SyncEvery chunks.
	StrategyStandard Strategy = iota

	// StrategySafe writes 64 KiB chunks and syncs after every chunk.
	StrategySafe
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyStandard:
		return "standard"
	case StrategySafe:
		return "safe"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name as used in recovery parameters.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "standard":
		return StrategyStandard, nil
	case "safe":
		return StrategySafe, nil
	}
	return 0, fmt.Errorf("unknown write strategy %q", name)
}

// VerifyMethod selects how the target is checked after writing.
type VerifyMethod int

const (
	// VerifySHA256 compares SHA-256 digests of source and target.
	VerifySHA256 VerifyMethod = iota

	// VerifyCompare compares chunks byte for byte and reports the first
	// differing offset. Digests are still computed.
	VerifyCompare
)

// String returns the method name.
func (m VerifyMethod) String() string {
	switch m {
	case VerifySHA256:
		return "sha256"
	case VerifyCompare:
		return "compare"
	default:
		return fmt.Sprintf("verify(%d)", int(m))
	}
}

// ParseVerifyMethod parses a verification method name.
func ParseVerifyMethod(name string) (VerifyMethod, error) {
	switch strings.ToLower(name) {
	case "", "sha256", "hash":
		return VerifySHA256, nil
	case "compare":
		return VerifyCompare, nil
	}
	return 0, fmt.Errorf("unknown verify method %q", name)
}
