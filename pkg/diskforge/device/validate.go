package device

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

var evalSymlinks = filepath.EvalSymlinks

// Whole-device path conventions per platform.
var conventions = map[string]*regexp.Regexp{
	"linux":   regexp.MustCompile(`^/dev/(sd[a-z]+|vd[a-z]+|hd[a-z]+|xvd[a-z]+|nvme\d+n\d+|mmcblk\d+)$`),
	"darwin":  regexp.MustCompile(`^/dev/r?disk\d+$`),
	"windows": regexp.MustCompile(`(?i)^\\\\\.\\PhysicalDrive\d+$`),
}

// Devices that are never valid write targets regardless of platform.
var blockedPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`^/dev/loop\d*`), "loop device"},
	{regexp.MustCompile(`^/dev/(dm-\d+|mapper/)`), "device-mapper volume"},
	{regexp.MustCompile(`^/dev/md\d*`), "software RAID array"},
	{regexp.MustCompile(`^/dev/r?disk0$`), "boot disk"},
	{regexp.MustCompile(`(?i)^\\\\\.\\PhysicalDrive0$`), "boot disk"},
}

func blocked(path string) string {
	for _, b := range blockedPatterns {
		if b.re.MatchString(path) {
			return b.reason
		}
	}
	return ""
}

func (c *Classifier) matchesConvention(path string) bool {
	re, ok := conventions[c.platform]
	return ok && re.MatchString(path)
}

// ValidateTarget checks that path may be written to: a whole raw device
// following the platform naming convention, not on the blocklist, a device
// node, and not the system drive. Every rejection wraps
// fault.ErrInvalidTarget.
func (c *Classifier) ValidateTarget(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty path", fault.ErrInvalidTarget)
	}
	if reason := blocked(path); reason != "" {
		return fmt.Errorf("%w: %s is a %s", fault.ErrInvalidTarget, path, reason)
	}
	if !c.matchesConvention(path) {
		return fmt.Errorf("%w: %s is not a whole-device path on %s", fault.ErrInvalidTarget, path, c.platform)
	}

	if c.platform != "windows" {
		info, err := c.stat(path)
		if err != nil {
			return fmt.Errorf("%w: %w", fault.ErrInvalidTarget, err)
		}
		if info.Mode()&fs.ModeDevice == 0 {
			return fmt.Errorf("%w: %s is not a device node", fault.ErrInvalidTarget, path)
		}
	}

	if c.allowSystem {
		return nil
	}
	system, err := c.IsSystemDrive(path)
	if err != nil {
		return fmt.Errorf("%w: cannot rule out system drive: %w", fault.ErrInvalidTarget, err)
	}
	if system {
		return fmt.Errorf("%w: %s holds the running system", fault.ErrInvalidTarget, path)
	}
	return nil
}
