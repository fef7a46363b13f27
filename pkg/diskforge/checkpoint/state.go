package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// SchemaVersion is the current checkpoint record version.
// Increment when making breaking changes to State.
const SchemaVersion = 1

// State is the persisted snapshot of an operation at a rollback point.
type State struct {
	Version     int         `json:"version"`
	ID          string      `json:"checkpoint_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Phase       fault.Phase `json:"phase"`
	OperationID string      `json:"operation_id,omitempty"`

	// DeviceState fingerprints the target device at checkpoint time.
	DeviceState DeviceState `json:"device_state"`

	// FileChecksums maps source paths to the SHA-256 of their first MiB.
	FileChecksums map[string]string `json:"file_checksums"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// DeviceState is the captured state of a target device.
type DeviceState struct {
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`

	// HeaderSize is the length of the leading region that was fingerprinted.
	HeaderSize   int64  `json:"header_size,omitempty"`
	HeaderDigest string `json:"header_digest,omitempty"`

	// Header holds the raw leading region when header preservation is on.
	Header []byte `json:"header,omitempty"`
}

// Marshal serializes the state to JSON.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal deserializes a state and checks its schema version.
func Unmarshal(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if s.Version < 1 || s.Version > SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, support 1..%d", ErrVersionMismatch, s.Version, SchemaVersion)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("decode checkpoint: missing checkpoint_id")
	}
	return &s, nil
}
