package checkpoint_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestManager_CreateAndRollbackAfterRestart(t *testing.T) {
	dir := t.TempDir()
	source := writeTemp(t, "image.iso", bytes.Repeat([]byte("iso"), 1000))

	store1, err := checkpoint.NewDirStore(dir)
	require.NoError(t, err)
	m1 := checkpoint.NewManager(store1)

	created, err := m1.Create(context.Background(), "X", fault.PhaseWriting, "", []string{source})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.SchemaVersion, created.Version)
	assert.Contains(t, created.FileChecksums, source)
	require.NoError(t, store1.Close())

	// A fresh manager has nothing in memory and reads from disk.
	store2, err := checkpoint.NewDirStore(dir)
	require.NoError(t, err)
	defer store2.Close()
	m2 := checkpoint.NewManager(store2)

	restored, err := m2.Rollback(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "X", restored.ID)
	assert.Equal(t, fault.PhaseWriting, restored.Phase)
	assert.Equal(t, created.FileChecksums, restored.FileChecksums)
	assert.True(t, created.Timestamp.Equal(restored.Timestamp))

	_, err = m2.Rollback(context.Background(), "unknown")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestManager_CreateForOperation(t *testing.T) {
	m := checkpoint.NewManager(checkpoint.NewMemoryStore())

	state, err := m.CreateForOperation(context.Background(), "op-1234abcd", fault.PhaseWriting, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "op-1234abcd-writing", state.ID)
	assert.Equal(t, "op-1234abcd", state.OperationID)
	assert.Equal(t, checkpoint.OperationCheckpointID("op-1234abcd", fault.PhaseWriting), state.ID)

	got, err := m.Get("op-1234abcd-writing")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestManager_CreateErrors(t *testing.T) {
	m := checkpoint.NewManager(checkpoint.NewMemoryStore())

	_, err := m.Create(context.Background(), "bad/id", fault.PhaseWriting, "", nil)
	assert.ErrorIs(t, err, checkpoint.ErrInvalidID)

	_, err = m.Create(context.Background(), "cp", fault.PhaseWriting, "", []string{"/nonexistent/image.iso"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Create(ctx, "cp", fault.PhaseWriting, "", nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = m.Get("cp")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound, "failed creates persist nothing")
}

func TestManager_PrefixChecksum(t *testing.T) {
	head := bytes.Repeat([]byte{0xAB}, 1<<20)
	path := writeTemp(t, "big.img", append(head, []byte("tail beyond the first MiB")...))

	m := checkpoint.NewManager(checkpoint.NewMemoryStore())
	state, err := m.Create(context.Background(), "cp", fault.PhaseWriting, "", []string{path})
	require.NoError(t, err)

	want := sha256.Sum256(head)
	assert.Equal(t, hex.EncodeToString(want[:]), state.FileChecksums[path])
}

func TestManager_ReturnsCopies(t *testing.T) {
	m := checkpoint.NewManager(checkpoint.NewMemoryStore())
	source := writeTemp(t, "a.img", []byte("abc"))

	state, err := m.Create(context.Background(), "cp", fault.PhaseWriting, "", []string{source})
	require.NoError(t, err)
	state.FileChecksums[source] = "tampered"

	got, err := m.Get("cp")
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", got.FileChecksums[source])
}

func TestManager_RollbackRestoresHeader(t *testing.T) {
	original := bytes.Repeat([]byte{0x55, 0xAA}, 2048)
	target := writeTemp(t, "device.img", append(bytes.Clone(original), make([]byte, 8192)...))

	m := checkpoint.NewManager(checkpoint.NewMemoryStore(),
		checkpoint.WithCapturer(checkpoint.HeaderCapturer{HeaderSize: 4096, Preserve: true}),
	)

	state, err := m.Create(context.Background(), "cp", fault.PhaseWriting, target, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4096+8192), state.DeviceState.SizeBytes)
	assert.Equal(t, int64(4096), state.DeviceState.HeaderSize)

	// Simulate a partial write over the header.
	f, err := os.OpenFile(target, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{0xFF}, 1024), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = m.Rollback(context.Background(), "cp")
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, original, data[:4096])
	assert.Len(t, data, 4096+8192, "restore does not truncate")
}

func TestHeaderCapturer_FingerprintOnly(t *testing.T) {
	target := writeTemp(t, "device.img", []byte("short device"))

	state, err := checkpoint.HeaderCapturer{}.Capture(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, int64(len("short device")), state.HeaderSize)
	assert.Empty(t, state.Header)
	assert.NotEmpty(t, state.HeaderDigest)

	// Nothing preserved, nothing written.
	require.NoError(t, os.WriteFile(target, []byte("overwritten!"), 0o600))
	require.NoError(t, checkpoint.HeaderCapturer{}.Restore(context.Background(), target, state))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "overwritten!", string(data))
}

func TestHeaderCapturer_RejectsCorruptHeader(t *testing.T) {
	target := writeTemp(t, "device.img", []byte("0123456789"))

	state, err := checkpoint.HeaderCapturer{Preserve: true}.Capture(context.Background(), target)
	require.NoError(t, err)
	state.Header[0] = 'X'

	err = checkpoint.HeaderCapturer{}.Restore(context.Background(), target, state)
	assert.Error(t, err)
}

func TestManager_Cleanup(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	m := checkpoint.NewManager(checkpoint.NewMemoryStore(), checkpoint.WithClock(clock))

	base := now
	now = base.Add(-72 * time.Hour)
	_, err := m.Create(context.Background(), "old", fault.PhaseWriting, "", nil)
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "old-held", fault.PhaseWriting, "", nil)
	require.NoError(t, err)

	now = base.Add(-time.Hour)
	_, err = m.Create(context.Background(), "recent", fault.PhaseWriting, "", nil)
	require.NoError(t, err)

	now = base
	m.Acquire("old-held")

	removed, err := m.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Get("old")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	_, err = m.Get("old-held")
	assert.NoError(t, err, "referenced checkpoints survive")
	_, err = m.Get("recent")
	assert.NoError(t, err)

	m.Release("old-held")
	removed, err = m.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "recent", infos[0].ID)
}

func TestUnmarshal_Version(t *testing.T) {
	_, err := checkpoint.Unmarshal([]byte(`{"version": 99, "checkpoint_id": "x", "phase": "writing"}`))
	assert.ErrorIs(t, err, checkpoint.ErrVersionMismatch)

	_, err = checkpoint.Unmarshal([]byte(`{"checkpoint_id": "x", "phase": "writing"}`))
	assert.ErrorIs(t, err, checkpoint.ErrVersionMismatch)

	_, err = checkpoint.Unmarshal([]byte(`{"version": 1, "phase": "writing"}`))
	assert.Error(t, err)

	_, err = checkpoint.Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	state, err := checkpoint.Unmarshal([]byte(`{"version": 1, "checkpoint_id": "x", "phase": "verification", "file_checksums": {}}`))
	require.NoError(t, err)
	assert.Equal(t, fault.PhaseVerification, state.Phase)
}

func TestManager_RollbackVersionMismatch(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save("future", []byte(`{"version": 2, "checkpoint_id": "future", "phase": "writing"}`)))

	m := checkpoint.NewManager(store)
	_, err := m.Rollback(context.Background(), "future")
	assert.ErrorIs(t, err, checkpoint.ErrVersionMismatch)
}
