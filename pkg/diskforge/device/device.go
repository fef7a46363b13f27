// Package device classifies storage devices and gates destructive writes.
//
// The Classifier answers the questions a writer must ask before touching a
// raw device: is it removable, is it the system drive, what kind of device
// is it, and does its path follow the platform's whole-device convention.
// All OS access goes through an Inspector so the same rules run against
// fixtures in tests.
//
// Failures to query the OS are never treated as "safe". IsRemovable fails
// closed (false); everything else returns the error.
package device

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size thresholds used by ClassifyDeviceType.
const (
	GiB = int64(1) << 30
	TiB = int64(1) << 40

	flashDriveLimit = 64 * GiB
	externalLimit   = 1 * TiB
	internalSSD     = 512 * GiB
)

// Descriptor describes one storage device. It is a snapshot; nothing in the
// write path mutates it.
type Descriptor struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	Removable   bool   `json:"removable"`
	SystemDrive bool   `json:"system_drive"`
	Filesystem  string `json:"filesystem,omitempty"`
	MountPoint  string `json:"mount_point,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
	Model       string `json:"model,omitempty"`
	Serial      string `json:"serial,omitempty"`
	Health      string `json:"health"`
	Type        string `json:"type"`
}

// String returns a one-line summary such as "/dev/sdb (USB Flash Drive, 16 GB)".
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Path, d.Type, humanize.Bytes(uint64(max(d.SizeBytes, 0))))
}

// Classifier applies device safety rules over an Inspector.
type Classifier struct {
	inspector   Inspector
	platform    string
	allowSystem bool
	logger      *slog.Logger
	stat        func(string) (fs.FileInfo, error)
	systemDrive string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithInspector sets the OS inspector. Default: NewInspector().
func WithInspector(i Inspector) Option {
	return func(c *Classifier) {
		c.inspector = i
	}
}

// WithPlatform overrides the platform rules ("linux", "darwin", "windows").
// Default: runtime.GOOS.
func WithPlatform(goos string) Option {
	return func(c *Classifier) {
		c.platform = goos
	}
}

// WithAllowSystemDrive lets ValidateTarget accept the system drive.
func WithAllowSystemDrive(allow bool) Option {
	return func(c *Classifier) {
		c.allowSystem = allow
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		platform:    runtime.GOOS,
		logger:      slog.Default(),
		stat:        os.Stat,
		systemDrive: os.Getenv("SystemDrive"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.inspector == nil {
		c.inspector = NewInspector()
	}
	if c.systemDrive == "" {
		c.systemDrive = "C:"
	}
	return c
}

// Platform returns the platform whose rules the classifier applies.
func (c *Classifier) Platform() string {
	return c.platform
}

// ClassifyDeviceType labels a device from its removability, path and size.
func ClassifyDeviceType(path string, removable bool, size int64) string {
	if removable {
		switch {
		case size < flashDriveLimit:
			return "USB Flash Drive"
		case size < externalLimit:
			return "External Drive"
		default:
			return "External Hard Drive"
		}
	}
	switch {
	case strings.Contains(strings.ToLower(path), "nvme"):
		return "NVMe SSD"
	case size < internalSSD:
		return "Internal SSD"
	default:
		return "Internal Hard Drive"
	}
}

// IsRemovable reports whether the device is removable. Any inspector failure
// is logged and reported as not removable.
func (c *Classifier) IsRemovable(path string) bool {
	removable, err := c.inspector.Removable(path)
	if err != nil {
		c.logger.Warn("removability unknown, treating as fixed",
			slog.String("device", path),
			slog.String("error", err.Error()),
		)
		return false
	}
	return removable
}

var linuxSystemMounts = []string{"/", "/boot", "/boot/efi", "/boot/firmware", "/usr"}

// IsSystemDrive reports whether path is, or shares a base device with, the
// drive the running system lives on.
func (c *Classifier) IsSystemDrive(path string) (bool, error) {
	switch c.platform {
	case "windows":
		upper := strings.ToUpper(path)
		if strings.HasSuffix(upper, `\PHYSICALDRIVE0`) {
			return true, nil
		}
		return strings.HasPrefix(upper, strings.ToUpper(c.systemDrive)), nil
	case "darwin":
		if path == "/" || strings.Contains(path, "/System/Volumes") {
			return true, nil
		}
	}

	mounts, err := c.inspector.Mounts()
	if err != nil {
		return false, fmt.Errorf("read mount table: %w", err)
	}

	target := Canonical(path)
	for _, m := range mounts {
		if !c.isSystemMount(m.MountPoint) {
			continue
		}
		disks, err := c.backingDisks(m)
		if err != nil {
			return false, fmt.Errorf("system mount %s: %w", m.MountPoint, err)
		}
		for _, d := range disks {
			if Canonical(d) == target {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Classifier) isSystemMount(mountPoint string) bool {
	if c.platform == "darwin" {
		return mountPoint == "/" || strings.HasPrefix(mountPoint, "/System/Volumes")
	}
	return slices.Contains(linuxSystemMounts, mountPoint)
}

// stackedDevice matches mount sources that name no disk directly.
var stackedDevice = regexp.MustCompile(`^/dev/(root|dm-\d+|mapper/.+|md\d+|md/.+)$`)

// Filesystems that live in memory or on the network, never on a local disk.
var diskless = []string{"tmpfs", "ramfs", "autofs", "devfs", "nfs", "nfs4", "cifs", "smbfs", "9p"}

// backingDisks returns the devices a system mount lives on. A mount that
// cannot be traced to a device is an error, since the target may be under it.
func (c *Classifier) backingDisks(m Mount) ([]string, error) {
	src := m.Device
	if !strings.HasPrefix(src, "/dev/") {
		if slices.Contains(diskless, m.FSType) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s filesystem from %q has no device to compare", m.FSType, src)
	}
	if resolved, err := evalSymlinks(src); err == nil {
		src = resolved
	}
	if !stackedDevice.MatchString(src) {
		return []string{src}, nil
	}

	disks, err := c.inspector.Backing(src)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", src, err)
	}
	if len(disks) == 0 {
		return nil, fmt.Errorf("resolve %s: no backing device", src)
	}
	return disks, nil
}

// Describe builds the Descriptor for the whole device behind path.
func (c *Classifier) Describe(path string) (Descriptor, error) {
	base := BaseDevice(path)

	removable, err := c.inspector.Removable(base)
	if err != nil {
		return Descriptor{}, fmt.Errorf("describe %s: removable: %w", base, err)
	}
	size, err := c.inspector.Size(base)
	if err != nil {
		return Descriptor{}, fmt.Errorf("describe %s: size: %w", base, err)
	}
	info, err := c.inspector.Info(base)
	if err != nil {
		return Descriptor{}, fmt.Errorf("describe %s: info: %w", base, err)
	}
	system, err := c.IsSystemDrive(base)
	if err != nil {
		return Descriptor{}, fmt.Errorf("describe %s: system drive: %w", base, err)
	}

	d := Descriptor{
		Path:        base,
		Name:        base[strings.LastIndexAny(base, `/\`)+1:],
		SizeBytes:   size,
		Removable:   removable,
		SystemDrive: system,
		Vendor:      info.Vendor,
		Model:       info.Model,
		Serial:      info.Serial,
		Health:      "Unknown",
		Type:        ClassifyDeviceType(base, removable, size),
	}
	if _, err := c.stat(base); err == nil {
		d.Health = "Good"
	}

	// The mount table is advisory here; system-drive detection above already
	// surfaced any read failure.
	if mounts, err := c.inspector.Mounts(); err == nil {
		key := Canonical(base)
		for _, m := range mounts {
			if Canonical(m.Device) == key {
				d.Filesystem = m.FSType
				d.MountPoint = m.MountPoint
				break
			}
		}
	}
	return d, nil
}

// List enumerates whole devices that pass the target rules, removable
// devices first, then by ascending size. System drives are left out unless
// includeSystem is set. Devices that cannot be described are skipped.
func (c *Classifier) List(includeSystem bool) ([]Descriptor, error) {
	paths, err := c.inspector.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	seen := make(map[string]bool)
	var out []Descriptor
	for _, p := range paths {
		base := BaseDevice(p)
		if seen[base] {
			continue
		}
		seen[base] = true

		if blocked(base) != "" || !c.matchesConvention(base) {
			continue
		}

		d, err := c.Describe(base)
		if err != nil {
			c.logger.Warn("skipping device",
				slog.String("device", base),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d.SystemDrive && !includeSystem {
			continue
		}
		out = append(out, d)
	}

	slices.SortStableFunc(out, func(a, b Descriptor) int {
		if a.Removable != b.Removable {
			if a.Removable {
				return -1
			}
			return 1
		}
		switch {
		case a.SizeBytes < b.SizeBytes:
			return -1
		case a.SizeBytes > b.SizeBytes:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}
