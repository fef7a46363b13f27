package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultHeaderSize is the leading device region fingerprinted by default.
// It covers the MBR, a GPT header and its partition entries.
const DefaultHeaderSize = 1 << 20

// prefixSize bounds the source file checksum.
const prefixSize = 1 << 20

// DeviceStateCapturer records and restores target device state.
type DeviceStateCapturer interface {
	Capture(ctx context.Context, path string) (DeviceState, error)
	Restore(ctx context.Context, path string, state DeviceState) error
}

// HeaderCapturer fingerprints the leading region of a device and, when
// Preserve is set, keeps the raw bytes so Restore can write them back.
// It does not repair partition tables beyond restoring those bytes.
type HeaderCapturer struct {
	// HeaderSize is the region length. Default: DefaultHeaderSize.
	HeaderSize int64

	// Preserve keeps the raw header bytes in the checkpoint.
	Preserve bool
}

// Capture implements DeviceStateCapturer.
func (h HeaderCapturer) Capture(ctx context.Context, path string) (DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return DeviceState{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return DeviceState{}, fmt.Errorf("capture device state: %w", err)
	}
	defer f.Close()

	// Seeking to the end works for block devices as well as image files.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return DeviceState{}, fmt.Errorf("capture device state: size: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return DeviceState{}, fmt.Errorf("capture device state: rewind: %w", err)
	}

	limit := h.HeaderSize
	if limit <= 0 {
		limit = DefaultHeaderSize
	}
	header := make([]byte, min(limit, size))
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return DeviceState{}, fmt.Errorf("capture device state: read header: %w", err)
	}
	header = header[:n]

	sum := sha256.Sum256(header)
	state := DeviceState{
		Path:         path,
		SizeBytes:    size,
		HeaderSize:   int64(n),
		HeaderDigest: hex.EncodeToString(sum[:]),
	}
	if h.Preserve {
		state.Header = header
	}
	return state, nil
}

// Restore implements DeviceStateCapturer. Without preserved header bytes it
// has nothing to write and returns nil.
func (h HeaderCapturer) Restore(ctx context.Context, path string, state DeviceState) error {
	if len(state.Header) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sum := sha256.Sum256(state.Header)
	if hex.EncodeToString(sum[:]) != state.HeaderDigest {
		return fmt.Errorf("restore device state: saved header does not match its digest")
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("restore device state: %w", err)
	}
	if _, err := f.WriteAt(state.Header, 0); err != nil {
		f.Close()
		return fmt.Errorf("restore device state: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("restore device state: sync: %w", err)
	}
	return f.Close()
}

// PrefixChecksum returns the hex SHA-256 of the first MiB of the file.
func PrefixChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, prefixSize); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
