package benchmarks

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/diskforge/pkg/diskforge/writer"
)

type allowAll struct{}

func (allowAll) ValidateTarget(string) error { return nil }

func createImage(b *testing.B, size int) (source, target string) {
	b.Helper()
	dir := b.TempDir()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	source = filepath.Join(dir, "image.iso")
	target = filepath.Join(dir, "device")
	if err := os.WriteFile(source, data, 0o600); err != nil {
		b.Fatal(err)
	}
	if err := os.WriteFile(target, nil, 0o600); err != nil {
		b.Fatal(err)
	}
	return source, target
}

func benchmarkWrite(b *testing.B, size int, req writer.Request, cfg writer.Config) {
	source, target := createImage(b, size)
	req.Source, req.Target = source, target

	w := writer.New(allowAll{},
		writer.WithConfig(cfg),
		writer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ctx := context.Background()

	b.SetBytes(int64(size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res := w.Run(ctx, req, writer.Hooks{}); res.Err != nil {
			b.Fatal(res.Err)
		}
	}
}

// BenchmarkWrite_Standard_8MiB writes with the default chunk size.
func BenchmarkWrite_Standard_8MiB(b *testing.B) {
	benchmarkWrite(b, 8<<20, writer.Request{}, writer.DefaultConfig())
}

// BenchmarkWrite_Safe_8MiB writes in small chunks with a sync after each.
func BenchmarkWrite_Safe_8MiB(b *testing.B) {
	benchmarkWrite(b, 8<<20, writer.Request{Strategy: writer.StrategySafe}, writer.DefaultConfig())
}

// BenchmarkWrite_Verified_8MiB writes and then reads back for a digest compare.
func BenchmarkWrite_Verified_8MiB(b *testing.B) {
	benchmarkWrite(b, 8<<20, writer.Request{Verify: true}, writer.DefaultConfig())
}

// BenchmarkWrite_SmallBuffer_8MiB shows the cost of many small chunks.
func BenchmarkWrite_SmallBuffer_8MiB(b *testing.B) {
	cfg := writer.DefaultConfig()
	cfg.BufferSize = 16 << 10
	benchmarkWrite(b, 8<<20, writer.Request{}, cfg)
}
