package fault_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		kind  string
		phase fault.Phase
		want  fault.Severity
	}{
		{"PermissionError", fault.PhaseWriting, fault.SeverityCritical},
		{"PermissionError", fault.PhasePartitioning, fault.SeverityCritical},
		{"DiskError", fault.PhaseFormatting, fault.SeverityCritical},
		{"DeviceError", fault.PhaseWriting, fault.SeverityCritical},
		{"PermissionError", fault.PhaseValidation, fault.SeverityWarning},
		{"DeviceError", fault.PhaseVerification, fault.SeverityWarning},
		{"TimeoutError", fault.PhaseCleanup, fault.SeverityRecoverable},
		{"IOError", fault.PhaseWriting, fault.SeverityRecoverable},
		{"NetworkError", fault.PhasePreparation, fault.SeverityRecoverable},
		{"RetryableError", fault.PhaseBackup, fault.SeverityRecoverable},
		{"IntegrityError", fault.PhaseVerification, fault.SeverityWarning},
		{"HashMismatch", fault.PhaseWriting, fault.SeverityWarning},
		{"", fault.PhaseWriting, fault.SeverityWarning},
		{"DeviceIOError", fault.PhaseVerification, fault.SeverityRecoverable},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.kind, tt.phase), func(t *testing.T) {
			assert.Equal(t, tt.want, fault.Classify(tt.kind, tt.phase))
		})
	}
}

func TestClassify_EveryMarkerEveryPhase(t *testing.T) {
	markers := map[string]func(fault.Phase) fault.Severity{
		"SystemError":     func(fault.Phase) fault.Severity { return fault.SeverityFatal },
		"FatalError":      func(fault.Phase) fault.Severity { return fault.SeverityFatal },
		"CriticalError":   func(fault.Phase) fault.Severity { return fault.SeverityFatal },
		"PermissionError": criticalWhenDestructive,
		"DiskError":       criticalWhenDestructive,
		"DeviceError":     criticalWhenDestructive,
		"IOError":         func(fault.Phase) fault.Severity { return fault.SeverityRecoverable },
		"NetworkError":    func(fault.Phase) fault.Severity { return fault.SeverityRecoverable },
		"TimeoutError":    func(fault.Phase) fault.Severity { return fault.SeverityRecoverable },
		"RetryableError":  func(fault.Phase) fault.Severity { return fault.SeverityRecoverable },
		"ValueError":      func(fault.Phase) fault.Severity { return fault.SeverityWarning },
	}

	for kind, want := range markers {
		for _, phase := range fault.Phases() {
			t.Run(fmt.Sprintf("%s/%s", kind, phase), func(t *testing.T) {
				assert.Equal(t, want(phase), fault.Classify(kind, phase))
			})
		}
	}
}

func criticalWhenDestructive(phase fault.Phase) fault.Severity {
	if phase.Destructive() {
		return fault.SeverityCritical
	}
	return fault.SeverityWarning
}

func TestClassify_FatalInEveryPhase(t *testing.T) {
	for _, kind := range []string{"FatalError", "SystemError", "CriticalError", "OperatingSystemError"} {
		for _, phase := range fault.Phases() {
			assert.Equal(t, fault.SeverityFatal, fault.Classify(kind, phase), "%s in %s", kind, phase)
		}
	}
}

func TestClassify_Pure(t *testing.T) {
	for _, phase := range fault.Phases() {
		first := fault.Classify("PermissionError", phase)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, fault.Classify("PermissionError", phase))
		}
	}
}

func TestPhase_Destructive(t *testing.T) {
	destructive := map[fault.Phase]bool{
		fault.PhasePartitioning: true,
		fault.PhaseFormatting:   true,
		fault.PhaseWriting:      true,
	}
	for _, phase := range fault.Phases() {
		assert.Equal(t, destructive[phase], phase.Destructive(), phase.String())
	}
}

func TestPhase_TextRoundTrip(t *testing.T) {
	for _, phase := range fault.Phases() {
		text, err := phase.MarshalText()
		require.NoError(t, err)

		var parsed fault.Phase
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, phase, parsed)
	}

	_, err := fault.ParsePhase("launch")
	assert.Error(t, err)

	p, err := fault.ParsePhase(" Writing ")
	require.NoError(t, err)
	assert.Equal(t, fault.PhaseWriting, p)

	assert.Equal(t, "unknown", fault.Phase(42).String())
}

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net failure" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"tagged", &fault.Error{Kind: "CustomError", Err: errors.New("x")}, "CustomError"},
		{"http", fmt.Errorf("fetch: %w", &fault.HTTPError{StatusCode: 503}), fault.KindHTTP},
		{"invalid source", fmt.Errorf("open: %w", fault.ErrInvalidSource), fault.KindInvalidSource},
		{"invalid target", fault.ErrInvalidTarget, fault.KindInvalidTarget},
		{"mismatch", &fault.MismatchError{Offset: 10}, fault.KindIntegrity},
		{"deadline", context.DeadlineExceeded, fault.KindTimeout},
		{"os deadline", os.ErrDeadlineExceeded, fault.KindTimeout},
		{"permission", &fs.PathError{Op: "open", Path: "/dev/sdb", Err: syscall.EACCES}, fault.KindPermission},
		{"no space", &fs.PathError{Op: "write", Path: "/dev/sdb", Err: syscall.ENOSPC}, fault.KindDisk},
		{"read-only", syscall.EROFS, fault.KindDisk},
		{"gone", &fs.PathError{Op: "write", Path: "/dev/sdb", Err: syscall.ENXIO}, fault.KindDevice},
		{"device io", &fs.PathError{Op: "write", Path: "/dev/sdb", Err: syscall.EIO}, fault.KindIO},
		{"errno timeout", syscall.ETIMEDOUT, fault.KindTimeout},
		{"net op", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, fault.KindNetwork},
		{"net timeout", timeoutErr{timeout: true}, fault.KindTimeout},
		{"net", timeoutErr{}, fault.KindNetwork},
		{"other", errors.New("boom"), fault.KindIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fault.KindOf(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, fault.Wrap(fault.PhaseWriting, "write", "/dev/sdb", nil))

	cause := &fs.PathError{Op: "write", Path: "/dev/sdb", Err: syscall.EACCES}
	err := fault.Wrap(fault.PhaseWriting, "write", "/dev/sdb", cause)

	var tagged *fault.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, fault.KindPermission, tagged.Kind)
	assert.Equal(t, fault.PhaseWriting, tagged.Phase)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.Contains(t, err.Error(), "writing write: /dev/sdb")

	assert.Equal(t, fault.PhaseWriting, fault.PhaseOf(err, fault.PhaseCleanup))
	assert.Equal(t, fault.PhaseCleanup, fault.PhaseOf(cause, fault.PhaseCleanup))
}

func TestMismatchError(t *testing.T) {
	short := &fault.MismatchError{Offset: -1, SourceBytes: 100, TargetBytes: 50}
	assert.Contains(t, short.Error(), "byte count mismatch")
	assert.ErrorIs(t, short, fault.ErrIntegrity)

	at := &fault.MismatchError{Offset: 4096, SourceBytes: 100, TargetBytes: 100}
	assert.Contains(t, at.Error(), "offset 4096")

	digest := &fault.MismatchError{Offset: -1, SourceDigest: "aa", TargetDigest: "bb"}
	assert.Contains(t, digest.Error(), "digest mismatch")
}

func TestNewContext(t *testing.T) {
	cause := fault.Wrap(fault.PhaseWriting, "write", "/dev/sdb",
		&fs.PathError{Op: "write", Path: "/dev/sdb", Err: syscall.EACCES})
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	c := fault.NewContext(cause, fault.PhasePreparation,
		fault.WithOperation("op-1"),
		fault.WithPaths("/dev/sdb"),
		fault.WithCheckpoint("op-1-pre_write"),
		fault.WithTimestamp(ts),
	)

	assert.Equal(t, fault.KindPermission, c.Kind)
	assert.Equal(t, fault.PhaseWriting, c.Phase, "phase on the error wins")
	assert.Equal(t, fault.SeverityCritical, c.Severity)
	assert.Equal(t, "op-1", c.OperationID)
	assert.Equal(t, []string{"/dev/sdb"}, c.AffectedPaths)
	assert.Equal(t, "op-1-pre_write", c.Checkpoint)
	assert.Equal(t, ts, c.Timestamp)
	assert.Equal(t, 0, c.RetryCount)
	assert.Equal(t, cause.Error(), c.Message)

	c = fault.NewContext(errors.New("x"), fault.PhaseWriting, fault.WithRetryCount(-4))
	assert.Equal(t, 0, c.RetryCount)
}

func TestContext_NextMonotonic(t *testing.T) {
	c := fault.NewContext(errors.New("io"), fault.PhaseWriting, fault.WithPaths("/dev/sdb"))

	next := c.Next()
	assert.Equal(t, c.RetryCount+1, next.RetryCount)
	assert.Equal(t, 0, c.RetryCount, "original is not modified")

	next.AffectedPaths[0] = "/dev/sdc"
	assert.Equal(t, "/dev/sdb", c.AffectedPaths[0])

	followed := next.Follow(context.DeadlineExceeded, fault.PhaseVerification)
	assert.Equal(t, 2, followed.RetryCount)
	assert.Equal(t, fault.KindTimeout, followed.Kind)
	assert.Equal(t, fault.PhaseVerification, followed.Phase)
}

func TestContext_JSON(t *testing.T) {
	c := fault.NewContext(errors.New("io"), fault.PhaseWriting, fault.WithOperation("op-7"))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"writing"`)
	assert.NotContains(t, string(data), `"Err"`)

	var decoded fault.Context
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, c.Phase, decoded.Phase)
	assert.Equal(t, c.OperationID, decoded.OperationID)
}
