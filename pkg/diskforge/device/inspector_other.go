//go:build !linux && !darwin && !windows

package device

// NewInspector returns the inspector for the running platform. This
// platform has no device inspector; every query fails.
func NewInspector() Inspector {
	return unsupported{}
}
