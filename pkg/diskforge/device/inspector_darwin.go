//go:build darwin

package device

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// NewInspector returns the inspector for the running platform.
func NewInspector() Inspector {
	return fsstatInspector{}
}

// fsstatInspector reads the mount table with getfsstat(2). Removability is
// inferred from volumes mounted under /Volumes.
type fsstatInspector struct {
	unsupported
}

func (fsstatInspector) Mounts() ([]Mount, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("getfsstat: %w", err)
	}
	buf := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(buf, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("getfsstat: %w", err)
	}

	mounts := make([]Mount, 0, n)
	for _, st := range buf[:n] {
		mounts = append(mounts, Mount{
			Device:     unix.ByteSliceToString(st.Mntfromname[:]),
			MountPoint: unix.ByteSliceToString(st.Mntonname[:]),
			FSType:     unix.ByteSliceToString(st.Fstypename[:]),
		})
	}
	return mounts, nil
}

func (i fsstatInspector) Removable(path string) (bool, error) {
	mounts, err := i.Mounts()
	if err != nil {
		return false, err
	}
	key := Canonical(path)
	for _, m := range mounts {
		if Canonical(m.Device) == key && strings.HasPrefix(m.MountPoint, "/Volumes/") {
			return true, nil
		}
	}
	return false, nil
}
