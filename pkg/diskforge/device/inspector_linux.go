//go:build linux

package device

// NewInspector returns the inspector for the running platform.
func NewInspector() Inspector {
	return NewSysfsInspector()
}
