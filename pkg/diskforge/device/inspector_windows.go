//go:build windows

package device

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

// NewInspector returns the inspector for the running platform.
func NewInspector() Inspector {
	return driveTypeInspector{}
}

// driveTypeInspector answers removability for drive-letter paths with
// GetDriveType. Physical drive paths carry no drive type and report false.
type driveTypeInspector struct {
	unsupported
}

func (driveTypeInspector) Removable(path string) (bool, error) {
	if strings.HasPrefix(strings.ToUpper(path), `\\.\PHYSICALDRIVE`) {
		return false, nil
	}

	root := path
	if len(root) >= 2 && root[1] == ':' {
		root = root[:2] + `\`
	}
	p, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return false, fmt.Errorf("encode %q: %w", root, err)
	}
	return windows.GetDriveType(p) == windows.DRIVE_REMOVABLE, nil
}
