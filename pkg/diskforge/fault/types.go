package fault

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation and verification.
var (
	// ErrInvalidSource indicates the source image is missing, unreadable,
	// not a regular file, or empty.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidTarget indicates the target is not an acceptable raw device.
	ErrInvalidTarget = errors.New("invalid target device")

	// ErrIntegrity indicates the verification pass found a difference
	// between source and target.
	ErrIntegrity = errors.New("integrity check failed")
)

// Error tags an error with its kind and the phase it happened in.
type Error struct {
	// Kind is the taxonomy tag (e.g. "PermissionError").
	Kind string

	// Phase is where in the pipeline the error happened.
	Phase Phase

	// Op is the operation that failed ("open target", "write", "verify").
	Op string

	// Path is the file or device involved, if any.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Phase, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with phase, op and path. The kind is derived with KindOf.
// Returns nil if err is nil.
func Wrap(phase Phase, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:  KindOf(err),
		Phase: phase,
		Op:    op,
		Path:  path,
		Err:   err,
	}
}

// WrapKind is like Wrap with an explicit kind.
func WrapKind(kind string, phase Phase, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Phase: phase, Op: op, Path: path, Err: err}
}

// PhaseOf returns the phase recorded on err, or fallback if err carries none.
func PhaseOf(err error, fallback Phase) Phase {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Phase
	}
	return fallback
}

// HTTPError represents an HTTP failure while fetching a source image.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// MismatchError describes a verification difference.
type MismatchError struct {
	// Offset is the first differing byte, or -1 when only digests were compared.
	Offset int64

	SourceDigest string
	TargetDigest string

	SourceBytes int64
	TargetBytes int64
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	switch {
	case e.SourceBytes != e.TargetBytes:
		return fmt.Sprintf("byte count mismatch: source %d, target %d", e.SourceBytes, e.TargetBytes)
	case e.Offset >= 0:
		return fmt.Sprintf("data mismatch at offset %d", e.Offset)
	default:
		return fmt.Sprintf("digest mismatch: source %s, target %s", e.SourceDigest, e.TargetDigest)
	}
}

// Unwrap returns ErrIntegrity for errors.Is support.
func (e *MismatchError) Unwrap() error {
	return ErrIntegrity
}
