package benchmarks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// createState builds a checkpoint record with a preserved header.
func createState(b *testing.B) []byte {
	b.Helper()
	state := &checkpoint.State{
		Version: checkpoint.SchemaVersion,
		ID:      "op-bench-writing",
		Phase:   fault.PhaseWriting,
		DeviceState: checkpoint.DeviceState{
			Path:         "/dev/sdb",
			SizeBytes:    32 << 30,
			HeaderSize:   checkpoint.DefaultHeaderSize,
			HeaderDigest: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			Header:       make([]byte, checkpoint.DefaultHeaderSize),
		},
		FileChecksums: map[string]string{"image.iso": "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
	}
	data, err := state.Marshal()
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func checkpointID(i int) string {
	return fmt.Sprintf("op-%03d-writing", i)
}

func createSQLiteStore(b *testing.B) *checkpoint.SQLiteStore {
	b.Helper()
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "checkpoints.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

func createDirStore(b *testing.B) *checkpoint.DirStore {
	b.Helper()
	store, err := checkpoint.NewDirStore(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

// BenchmarkMemoryStore_Save measures in-memory checkpoint save.
func BenchmarkMemoryStore_Save(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	data := createState(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Save(checkpointID(i%100), data)
	}
}

// BenchmarkMemoryStore_Load measures in-memory checkpoint load.
func BenchmarkMemoryStore_Load(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	_ = store.Save(checkpointID(0), createState(b))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Load(checkpointID(0))
	}
}

// BenchmarkDirStore_Save measures the atomic temp-file-and-rename save.
func BenchmarkDirStore_Save(b *testing.B) {
	store := createDirStore(b)
	data := createState(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Save(checkpointID(i%100), data)
	}
}

// BenchmarkDirStore_Load measures a directory store read.
func BenchmarkDirStore_Load(b *testing.B) {
	store := createDirStore(b)
	_ = store.Save(checkpointID(0), createState(b))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Load(checkpointID(0))
	}
}

// BenchmarkSQLiteStore_Save measures SQLite checkpoint save.
func BenchmarkSQLiteStore_Save(b *testing.B) {
	store := createSQLiteStore(b)
	data := createState(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Save(checkpointID(i%100), data)
	}
}

// BenchmarkSQLiteStore_Load measures SQLite checkpoint load.
func BenchmarkSQLiteStore_Load(b *testing.B) {
	store := createSQLiteStore(b)
	_ = store.Save(checkpointID(0), createState(b))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Load(checkpointID(0))
	}
}

// BenchmarkManager_Create measures a full checkpoint: header capture, source
// checksum and a durable save.
func BenchmarkManager_Create(b *testing.B) {
	dir := b.TempDir()
	device := filepath.Join(dir, "device")
	source := filepath.Join(dir, "image.iso")
	if err := os.WriteFile(device, make([]byte, 1<<20), 0o600); err != nil {
		b.Fatal(err)
	}
	if err := os.WriteFile(source, make([]byte, 2<<20), 0o600); err != nil {
		b.Fatal(err)
	}

	cps := checkpoint.NewManager(createDirStore(b),
		checkpoint.WithCapturer(checkpoint.HeaderCapturer{Preserve: true}))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cps.Create(ctx, checkpointID(i%100), fault.PhaseWriting, device, []string{source}); err != nil {
			b.Fatal(err)
		}
	}
}
