//go:build !unix

package writer

// syncFilesystems is a no-op where the file handle's Sync is the only
// flush available.
func syncFilesystems() {}
