package fault

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// Error kinds produced by KindOf and the writer.
const (
	KindIO            = "IOError"
	KindRead          = "ReadError"
	KindWrite         = "WriteError"
	KindPermission    = "PermissionError"
	KindDisk          = "DiskError"
	KindDevice        = "DeviceError"
	KindIntegrity     = "IntegrityError"
	KindHashMismatch  = "HashMismatch"
	KindNetwork       = "NetworkError"
	KindTimeout       = "TimeoutError"
	KindHTTP          = "HTTPError"
	KindFatal         = "FatalError"
	KindSystem        = "SystemError"
	KindInvalidSource = "InvalidSource"
	KindInvalidTarget = "InvalidTarget"
)

// Marker sets for Classify. A kind matches a set when it contains any
// marker as a substring, so "DeviceWriteError" style kinds still classify.
var (
	fatalMarkers     = []string{"SystemError", "FatalError", "CriticalError"}
	criticalMarkers  = []string{"PermissionError", "DiskError", "DeviceError"}
	transientMarkers = []string{"IOError", "NetworkError", "TimeoutError", "RetryableError"}
)

// Classify returns the severity of a failure of the given kind during phase.
// It has no side effects and depends only on its arguments.
func Classify(kind string, phase Phase) Severity {
	if matchesAny(kind, fatalMarkers) {
		return SeverityFatal
	}
	if phase.Destructive() && matchesAny(kind, criticalMarkers) {
		return SeverityCritical
	}
	if matchesAny(kind, transientMarkers) {
		return SeverityRecoverable
	}
	return SeverityWarning
}

// MatchesAny reports whether kind contains any of the markers.
// Recovery engines use it for kind-based dispatch.
func MatchesAny(kind string, markers ...string) bool {
	return matchesAny(kind, markers)
}

func matchesAny(kind string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(kind, m) {
			return true
		}
	}
	return false
}

// KindOf derives the kind tag for err.
//
// Explicitly tagged errors (*Error, *HTTPError) keep their kind. Otherwise
// the error is mapped from well-known causes; anything unrecognised is an
// IOError.
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind != "" {
		return tagged.Kind
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return KindHTTP
	}

	switch {
	case errors.Is(err, ErrInvalidSource):
		return KindInvalidSource
	case errors.Is(err, ErrInvalidTarget):
		return KindInvalidTarget
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EROFS):
		return KindDisk
	case errors.Is(err, syscall.ENXIO), errors.Is(err, syscall.ENODEV):
		return KindDevice
	}

	// syscall.Errno satisfies net.Error, so errno values only count as
	// network failures when a network operation produced them.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno.Timeout() {
			return KindTimeout
		}
		return KindIO
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	return KindIO
}
