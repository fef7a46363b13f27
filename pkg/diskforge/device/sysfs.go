package device

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SysfsInspector reads device facts from a Linux sysfs tree and procfs mount
// table. The roots are configurable so the inspector can run against a
// fixture directory.
type SysfsInspector struct {
	// SysRoot is the sysfs mount point. Default: "/sys".
	SysRoot string

	// ProcMounts is the mount table file. Default: "/proc/mounts".
	ProcMounts string

	// MountInfo is the per-process mount info file, read for the root
	// device number. Default: "/proc/self/mountinfo".
	MountInfo string

	// DevRoot is the directory device nodes live in. Default: "/dev".
	DevRoot string
}

// NewSysfsInspector returns an inspector over the live system roots.
func NewSysfsInspector() *SysfsInspector {
	return &SysfsInspector{
		SysRoot:    "/sys",
		ProcMounts: "/proc/mounts",
		MountInfo:  "/proc/self/mountinfo",
		DevRoot:    "/dev",
	}
}

func (s *SysfsInspector) blockDir(path string) string {
	return filepath.Join(s.SysRoot, "block", filepath.Base(BaseDevice(path)))
}

// Removable reads the sysfs "removable" flag. A device whose resolved sysfs
// path runs through a USB bus is also removable; many USB SSDs report 0.
func (s *SysfsInspector) Removable(path string) (bool, error) {
	dir := s.blockDir(path)

	flag, err := readTrimmed(filepath.Join(dir, "removable"))
	if err != nil {
		return false, fmt.Errorf("read removable flag: %w", err)
	}
	if flag == "1" {
		return true, nil
	}

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false, fmt.Errorf("resolve sysfs path: %w", err)
	}
	return strings.Contains(filepath.ToSlash(resolved), "/usb"), nil
}

// Size reads the sysfs sector count. Sysfs always reports 512-byte sectors.
func (s *SysfsInspector) Size(path string) (int64, error) {
	text, err := readTrimmed(filepath.Join(s.blockDir(path), "size"))
	if err != nil {
		return 0, fmt.Errorf("read size: %w", err)
	}
	sectors, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", text, err)
	}
	return sectors * 512, nil
}

// Info reads vendor, model and serial from the device directory.
func (s *SysfsInspector) Info(path string) (Info, error) {
	dir := s.blockDir(path)
	if _, err := os.Stat(dir); err != nil {
		return Info{}, err
	}

	// Virtual devices have no device/ directory; the fields stay empty.
	vendor, _ := readTrimmed(filepath.Join(dir, "device", "vendor"))
	model, _ := readTrimmed(filepath.Join(dir, "device", "model"))
	serial, _ := readTrimmed(filepath.Join(dir, "device", "serial"))
	return Info{Vendor: vendor, Model: model, Serial: serial}, nil
}

// Mounts parses the procfs mount table.
func (s *SysfsInspector) Mounts() ([]Mount, error) {
	f, err := os.Open(s.ProcMounts)
	if err != nil {
		return nil, fmt.Errorf("open mount table: %w", err)
	}
	defer f.Close()

	var mounts []Mount
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, Mount{
			Device:     unescapeMountField(fields[0]),
			MountPoint: unescapeMountField(fields[1]),
			FSType:     fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return mounts, nil
}

// Devices lists the entries of <SysRoot>/block as device paths, sorted.
func (s *SysfsInspector) Devices() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.SysRoot, "block"))
	if err != nil {
		return nil, fmt.Errorf("list block devices: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(s.DevRoot, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// stackedName matches kernel names of devices built on other devices.
var stackedName = regexp.MustCompile(`^(dm-\d+|md\d+)$`)

const maxStackDepth = 8

// Backing resolves a stacked device to the devices under it. /dev/root is
// found through the root mount's device number, /dev/mapper names through
// each dm device's name, and dm-N or mdN through their slaves directory.
func (s *SysfsInspector) Backing(path string) ([]string, error) {
	name, err := s.kernelName(path)
	if err != nil {
		return nil, err
	}
	return s.slaves(name, 0)
}

func (s *SysfsInspector) slaves(name string, depth int) ([]string, error) {
	if !stackedName.MatchString(name) {
		return []string{filepath.Join(s.DevRoot, name)}, nil
	}
	if depth >= maxStackDepth {
		return nil, fmt.Errorf("resolve %s: device stack deeper than %d", name, maxStackDepth)
	}

	entries, err := os.ReadDir(filepath.Join(s.SysRoot, "block", name, "slaves"))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("resolve %s: no backing devices", name)
	}

	var out []string
	for _, e := range entries {
		under, err := s.slaves(e.Name(), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, under...)
	}
	return out, nil
}

// kernelName maps a device path to its name under <SysRoot>/block.
func (s *SysfsInspector) kernelName(path string) (string, error) {
	switch {
	case path == filepath.Join(s.DevRoot, "root"):
		return s.rootName()
	case strings.HasPrefix(path, filepath.Join(s.DevRoot, "mapper")+"/"):
		return s.mapperName(filepath.Base(path))
	default:
		return filepath.Base(path), nil
	}
}

// rootName finds the device of the / mount by its major:minor number.
func (s *SysfsInspector) rootName() (string, error) {
	f, err := os.Open(s.MountInfo)
	if err != nil {
		return "", fmt.Errorf("resolve root device: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[4] != "/" {
			continue
		}
		resolved, err := filepath.EvalSymlinks(filepath.Join(s.SysRoot, "dev", "block", fields[2]))
		if err != nil {
			return "", fmt.Errorf("resolve root device %s: %w", fields[2], err)
		}
		return filepath.Base(resolved), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("resolve root device: %w", err)
	}
	return "", fmt.Errorf("resolve root device: no / entry in %s", s.MountInfo)
}

// mapperName finds the dm-N device whose dm/name is name.
func (s *SysfsInspector) mapperName(name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.SysRoot, "block", "dm-*", "dm", "name"))
	if err != nil {
		return "", fmt.Errorf("resolve mapper %s: %w", name, err)
	}
	for _, m := range matches {
		if got, err := readTrimmed(m); err == nil && got == name {
			return filepath.Base(filepath.Dir(filepath.Dir(m))), nil
		}
	}
	return "", fmt.Errorf("resolve mapper %s: no device-mapper device has that name", name)
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// procfs escapes whitespace and backslashes as three-digit octal.
var mountFieldReplacer = strings.NewReplacer(
	`\040`, " ",
	`\011`, "\t",
	`\012`, "\n",
	`\134`, `\`,
)

func unescapeMountField(s string) string {
	return mountFieldReplacer.Replace(s)
}
