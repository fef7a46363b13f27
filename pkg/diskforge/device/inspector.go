package device

import "errors"

// ErrUnsupported is returned by inspectors for queries the platform cannot
// answer. Callers treat it as "unknown", never as "safe".
var ErrUnsupported = errors.New("device query not supported on this platform")

// Mount is one entry of the system mount table.
type Mount struct {
	Device     string
	MountPoint string
	FSType     string
}

// Info is the hardware identity reported for a device.
type Info struct {
	Vendor string
	Model  string
	Serial string
}

// Inspector answers raw questions about block devices from the operating
// system. Implementations must not guess: a query they cannot answer
// returns an error.
type Inspector interface {
	// Removable reports whether the whole device behind path is removable.
	Removable(path string) (bool, error)

	// Size returns the device capacity in bytes.
	Size(path string) (int64, error)

	// Info returns vendor, model and serial. Missing fields are empty.
	Info(path string) (Info, error)

	// Mounts returns the current mount table.
	Mounts() ([]Mount, error)

	// Devices lists whole-device paths known to the system.
	Devices() ([]string, error)

	// Backing returns the devices a stacked or aliased block device
	// (device-mapper, md RAID, /dev/root) is built on. Entries may be
	// partitions.
	Backing(path string) ([]string, error)
}

// unsupported answers every query with ErrUnsupported. Platform inspectors
// embed it and override what they can answer.
type unsupported struct{}

func (unsupported) Removable(string) (bool, error)   { return false, ErrUnsupported }
func (unsupported) Size(string) (int64, error)       { return 0, ErrUnsupported }
func (unsupported) Info(string) (Info, error)        { return Info{}, ErrUnsupported }
func (unsupported) Mounts() ([]Mount, error)         { return nil, ErrUnsupported }
func (unsupported) Devices() ([]string, error)       { return nil, ErrUnsupported }
func (unsupported) Backing(string) ([]string, error) { return nil, ErrUnsupported }
