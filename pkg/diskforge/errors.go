package diskforge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/randalmurphal/diskforge/pkg/diskforge/recovery"
)

// Sentinel errors for submitting and running writes.
var (
	// ErrDeviceBusy indicates another write to the same base device is in flight.
	ErrDeviceBusy = errors.New("device busy")

	// ErrRetriesExhausted indicates recovery gave up after automatic retries.
	ErrRetriesExhausted = errors.New("recovery attempts exhausted")
)

// FailureError is the terminal error of a write that could not be
// recovered. It carries everything an operator needs to act: the device,
// the classified failure and the ranked recovery actions.
type FailureError struct {
	// Device is the target path.
	Device string
	// Context is the classified last failure.
	Context fault.Context
	// Actions are the proposed recovery actions, best first.
	Actions []recovery.Action
	// Attempts is the number of write attempts made.
	Attempts int
	// Exhausted is true when automatic recovery ran out of options.
	Exhausted bool
	// RecoveryErr is set when executing the chosen action failed.
	RecoveryErr error
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "write to %s failed in %s phase: %s", e.Device, e.Context.Phase, e.Context.Message)
	if e.RecoveryErr != nil {
		fmt.Fprintf(&b, " (recovery: %v)", e.RecoveryErr)
	}
	if e.Exhausted {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	return b.String()
}

// Unwrap returns the underlying failure, the recovery error and
// ErrRetriesExhausted when set, for errors.Is/As support.
func (e *FailureError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Context.Err != nil {
		errs = append(errs, e.Context.Err)
	}
	if e.RecoveryErr != nil {
		errs = append(errs, e.RecoveryErr)
	}
	if e.Exhausted {
		errs = append(errs, ErrRetriesExhausted)
	}
	return errs
}

// Severity returns the severity of the last failure.
func (e *FailureError) Severity() fault.Severity {
	return e.Context.Severity
}

// PanicError captures a panic raised during a write attempt.
// It includes the stack trace for debugging.
type PanicError struct {
	// Operation is the ID of the operation that panicked.
	Operation string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("operation %s panicked: %v", e.Operation, e.Value)
}
