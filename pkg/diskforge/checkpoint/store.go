// Package checkpoint persists rollback points for destructive device
// operations.
//
// A checkpoint is a versioned JSON record (State) holding the operation
// phase, a fingerprint of the target device, and checksums of the source
// files. The Manager creates checkpoints synchronously before a destructive
// phase starts and restores them on rollback. Records are kept in a Store:
//   - DirStore: one file per checkpoint, written atomically
//   - SQLiteStore: a single database file
//   - MemoryStore: process memory, for tests
package checkpoint

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Store persists serialized checkpoints by ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint, replacing any existing one with the same ID.
	Save(id string, data []byte) error

	// Load retrieves a checkpoint.
	// Returns ErrNotFound if the checkpoint doesn't exist.
	Load(id string) ([]byte, error)

	// List returns all checkpoints ordered by save time.
	// Returns an empty slice (not an error) if there are none.
	List() ([]Info, error)

	// Delete removes a checkpoint.
	// Returns nil if the checkpoint doesn't exist.
	Delete(id string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading the full record.
type Info struct {
	ID        string
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidID indicates a checkpoint ID unusable as a record key.
	ErrInvalidID = errors.New("invalid checkpoint id")

	// ErrVersionMismatch indicates a record written with an unknown schema.
	ErrVersionMismatch = errors.New("checkpoint schema version mismatch")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateID checks that id is non-empty and safe to use as a file name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
