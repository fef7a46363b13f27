package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// Unmounter releases every mounted filesystem on a device before it is
// overwritten.
type Unmounter interface {
	Unmount(ctx context.Context, path string) error
}

// CommandUnmounter unmounts with the platform's command-line tools:
// umount(8) per mounted partition on Linux, "diskutil unmountDisk" on macOS.
// Windows needs no unmount for raw physical drive writes.
type CommandUnmounter struct {
	inspector Inspector
	platform  string
	logger    *slog.Logger
	run       func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandUnmounter creates an unmounter that reads mounts from inspector.
func NewCommandUnmounter(inspector Inspector, logger *slog.Logger) *CommandUnmounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandUnmounter{
		inspector: inspector,
		platform:  runtime.GOOS,
		logger:    logger,
		run:       runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Unmount unmounts every filesystem on the device behind path. All
// mountpoints are attempted; the returned error joins the failures.
func (u *CommandUnmounter) Unmount(ctx context.Context, path string) error {
	base := BaseDevice(path)

	switch u.platform {
	case "windows":
		return nil
	case "darwin":
		return u.exec(ctx, "diskutil", "unmountDisk", base)
	}

	mounts, err := u.inspector.Mounts()
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	var errs []error
	for _, m := range mounts {
		if BaseDevice(m.Device) != base {
			continue
		}
		if err := u.exec(ctx, "umount", m.MountPoint); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (u *CommandUnmounter) exec(ctx context.Context, name string, args ...string) error {
	u.logger.Debug("exec",
		slog.String("command", name),
		slog.String("args", strings.Join(args, " ")),
	)
	out, err := u.run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
