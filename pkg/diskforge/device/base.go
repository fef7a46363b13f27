package device

import (
	"regexp"
	"strings"
)

var (
	// disk2s1, rdisk4s2, disk3s1s1 (APFS snapshot)
	darwinSlice = regexp.MustCompile(`^(.*/r?disk\d+)(s\d+)+$`)

	// rdisk2, the character node of disk2
	darwinRaw = regexp.MustCompile(`^(.*/)r(disk\d+)$`)

	// nvme0n1p1, mmcblk0p2, loop0p1
	numberedPartition = regexp.MustCompile(`^(.*\d)p\d+$`)

	// Whole devices whose names end in a digit.
	wholeNumbered = regexp.MustCompile(`^(nvme\d+n\d+|mmcblk\d+|loop\d+|md\d+|nbd\d+|dm-\d+|sr\d+|zram\d+|r?disk\d+)$`)

	// sda1, xvdb3, hdc2
	letteredPartition = regexp.MustCompile(`^(.*[a-z])\d+$`)
)

// BaseDevice returns the whole-device path for a partition path:
//
//	/dev/sda1      -> /dev/sda
//	/dev/nvme0n1p1 -> /dev/nvme0n1
//	/dev/mmcblk0p2 -> /dev/mmcblk0
//	/dev/disk2s1   -> /dev/disk2
//	/dev/disk3s1s1 -> /dev/disk3
//
// Whole-device paths and Windows paths are returned unchanged, so
// BaseDevice(BaseDevice(p)) == BaseDevice(p).
func BaseDevice(path string) string {
	if isWindowsPath(path) {
		return path
	}
	if m := darwinSlice.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	if m := numberedPartition.FindStringSubmatch(path); m != nil {
		return m[1]
	}

	name := path[strings.LastIndex(path, "/")+1:]
	if wholeNumbered.MatchString(name) {
		return path
	}
	if m := letteredPartition.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return path
}

// Canonical returns the key that identifies the physical device behind
// path, so every alias of one disk maps to the same key. Symlinks such as
// /dev/disk/by-id/* are resolved, partitions map to their disk, the raw
// node /dev/rdiskN maps to /dev/diskN and Windows paths are upper-cased.
func Canonical(path string) string {
	if isWindowsPath(path) {
		return strings.ToUpper(path)
	}
	if resolved, err := evalSymlinks(path); err == nil {
		path = resolved
	}
	base := BaseDevice(path)
	if m := darwinRaw.FindStringSubmatch(base); m != nil {
		return m[1] + m[2]
	}
	return base
}

func isWindowsPath(path string) bool {
	if strings.HasPrefix(path, `\\.\`) || strings.HasPrefix(path, `\\?\`) {
		return true
	}
	return len(path) >= 2 && path[1] == ':'
}
