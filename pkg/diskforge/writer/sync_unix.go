//go:build unix

package writer

import "golang.org/x/sys/unix"

// syncFilesystems flushes all filesystem buffers to disk.
func syncFilesystems() {
	unix.Sync()
}
