package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
writer:
  buffer_size: 4MiB
  sync_every: 10
  progress_interval: 1s
  verify: false
checkpoint:
  dir: /var/lib/diskforge
  backend: sqlite
  max_age: 72h
  preserve_header: true
  header_size: 64KiB
orchestrator:
  max_attempts: 4
  max_concurrent: 2
  allow_system_drive: true
logging:
  level: debug
  format: json
observability:
  metrics: true
  tracing: true
`

func TestParse_Full(t *testing.T) {
	v, err := config.FromYAML([]byte(fullYAML))
	require.NoError(t, err)

	s, err := config.Parse(v)
	require.NoError(t, err)

	assert.Equal(t, int64(4<<20), s.Writer.BufferSize)
	assert.Equal(t, 10, s.Writer.SyncEvery)
	assert.Equal(t, time.Second, s.Writer.ProgressInterval)
	assert.False(t, s.Writer.Verify)

	assert.Equal(t, "/var/lib/diskforge", s.Checkpoint.Dir)
	assert.Equal(t, config.BackendSQLite, s.Checkpoint.Backend)
	assert.Equal(t, 72*time.Hour, s.Checkpoint.MaxAge)
	assert.True(t, s.Checkpoint.PreserveHeader)
	assert.Equal(t, int64(64<<10), s.Checkpoint.HeaderSize)

	assert.Equal(t, 4, s.Orchestrator.MaxAttempts)
	assert.Equal(t, 2, s.Orchestrator.MaxConcurrent)
	assert.True(t, s.Orchestrator.AllowSystemDrive)

	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, config.FormatJSON, s.Logging.Format)
	assert.True(t, s.Observability.Metrics)
	assert.True(t, s.Observability.Tracing)
}

func TestParse_DefaultsForMissingKeys(t *testing.T) {
	v, err := config.FromYAML([]byte("writer:\n  sync_every: 5\n"))
	require.NoError(t, err)

	s, err := config.Parse(v)
	require.NoError(t, err)

	want := config.Default()
	want.Writer.SyncEvery = 5
	assert.Equal(t, want, s)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad size", "writer:\n  buffer_size: lots\n"},
		{"size too small", "writer:\n  buffer_size: 512\n"},
		{"bad duration", "checkpoint:\n  max_age: soon\n"},
		{"fractional int", "orchestrator:\n  max_attempts: 2.5\n"},
		{"string for bool", "writer:\n  verify: \"yes\"\n"},
		{"number for string", "checkpoint:\n  backend: 7\n"},
		{"unknown backend", "checkpoint:\n  backend: etcd\n"},
		{"zero attempts", "orchestrator:\n  max_attempts: 0\n"},
		{"negative concurrency", "orchestrator:\n  max_concurrent: -1\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := config.FromYAML([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = config.Parse(v)
			assert.ErrorIs(t, err, config.ErrInvalidSettings)
		})
	}
}

func TestParse_ReportsEveryBadKey(t *testing.T) {
	v, err := config.FromYAML([]byte("writer:\n  buffer_size: lots\n  sync_every: many\n"))
	require.NoError(t, err)

	_, err = config.Parse(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writer.buffer_size")
	assert.Contains(t, err.Error(), "writer.sync_every")
}

func TestFromYAML_ExpandsEnv(t *testing.T) {
	t.Setenv("DISKFORGE_TEST_DIR", "/tmp/forge")

	v, err := config.FromYAML([]byte("checkpoint:\n  dir: ${DISKFORGE_TEST_DIR}/cps\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/forge/cps", v.String("checkpoint.dir", ""))
}

func TestFromJSON(t *testing.T) {
	v, err := config.FromJSON([]byte(`{"writer": {"buffer_size": 65536, "verify": true}, "orchestrator": {"max_attempts": 3}}`))
	require.NoError(t, err)

	s, err := config.Parse(v)
	require.NoError(t, err)
	assert.Equal(t, int64(65536), s.Writer.BufferSize)
	assert.Equal(t, 3, s.Orchestrator.MaxAttempts)

	_, err = config.FromJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "diskforge.yml")
	require.NoError(t, os.WriteFile(path, []byte(fullYAML), 0o600))
	s, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Orchestrator.MaxAttempts)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "diskforge.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0o600))
	_, err = config.Load(toml)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

func TestValues(t *testing.T) {
	v := config.New(map[string]any{
		"writer": map[string]any{
			"buffer_size": "1 MiB",
			"sync_every":  float64(20),
			"interval":    2,
			"name":        "w",
			"verify":      true,
		},
		"flat": "value",
	})

	assert.Equal(t, int64(1<<20), v.Bytes("writer.buffer_size", 0))
	assert.Equal(t, int64(7), v.Bytes("writer.name", 7), "invalid size falls back")
	assert.Equal(t, 20, v.Int("writer.sync_every", 0))
	assert.Equal(t, 2*time.Second, v.Duration("writer.interval", 0))
	assert.Equal(t, "w", v.String("writer.name", ""))
	assert.True(t, v.Bool("writer.verify", false))
	assert.Equal(t, "value", v.String("flat", ""))
	assert.Equal(t, "d", v.String("flat.nested", "d"), "paths do not descend into scalars")
	assert.True(t, v.Has("writer.verify"))
	assert.False(t, v.Has("writer.missing"))

	section := v.Section("writer")
	assert.Equal(t, 20, section.Int("sync_every", 0))
	assert.Empty(t, v.Section("flat").Raw())
	assert.NotNil(t, config.New(nil).Raw())
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{"500G", 500_000_000_000, false},
		{"1MiB", 1 << 20, false},
		{"4096", 4096, false},
		{4096, 4096, false},
		{float64(8192), 8192, false},
		{-1, 0, true},
		{"big", 0, true},
		{true, 0, true},
	}
	for _, tt := range tests {
		got, err := config.ParseBytes(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestWriterSettings_Config(t *testing.T) {
	s := config.Default()
	s.Writer.BufferSize = 2 << 20
	s.Writer.SyncEvery = 7

	cfg := s.Writer.Config()
	assert.Equal(t, 2<<20, cfg.BufferSize)
	assert.Equal(t, 7, cfg.SyncEvery)
	assert.Equal(t, 500*time.Millisecond, cfg.ProgressInterval)
}

func TestCheckpointSettings_OpenStore(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{config.BackendDir, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			c := config.Default().Checkpoint
			c.Dir = filepath.Join(dir, backend)
			c.Backend = backend

			store, err := c.OpenStore()
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Save("cp", []byte("{}")))
			_, err = store.Load("cp")
			assert.NoError(t, err)
		})
	}

	c := config.Default().Checkpoint
	c.Dir = dir
	c.Backend = "etcd"
	_, err := c.OpenStore()
	assert.ErrorIs(t, err, config.ErrInvalidSettings)

	c.HeaderSize = 4096
	c.PreserveHeader = true
	assert.Equal(t, checkpoint.HeaderCapturer{HeaderSize: 4096, Preserve: true}, c.Capturer())
}

func TestCheckpointSettings_ResolvedDir(t *testing.T) {
	c := config.CheckpointSettings{Dir: "/explicit"}
	dir, err := c.ResolvedDir()
	require.NoError(t, err)
	assert.Equal(t, "/explicit", dir)

	t.Setenv("XDG_CACHE_HOME", "/cache")
	t.Setenv("HOME", "/home/tester")
	dir, err = config.CheckpointSettings{}.ResolvedDir()
	require.NoError(t, err)
	assert.Equal(t, "diskforge", filepath.Base(filepath.Dir(dir)))
	assert.Equal(t, "checkpoints", filepath.Base(dir))
}

func TestLoggingSettings(t *testing.T) {
	level, err := config.ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	for _, format := range []string{config.FormatText, config.FormatJSON, config.FormatTint} {
		var buf bytes.Buffer
		logger, err := config.LoggingSettings{Level: "info", Format: format}.Logger(&buf)
		require.NoError(t, err, format)

		logger.Debug("hidden")
		logger.Info("write started", slog.String("device", "/dev/sdb"))
		assert.Contains(t, buf.String(), "write started", format)
		assert.Contains(t, buf.String(), "/dev/sdb", format)
		assert.NotContains(t, buf.String(), "hidden", format)
	}

	var buf bytes.Buffer
	logger, err := config.LoggingSettings{Level: "info", Format: config.FormatJSON}.Logger(&buf)
	require.NoError(t, err)
	logger.Info("x")
	assert.Contains(t, buf.String(), `"msg":"x"`)

	_, err = config.LoggingSettings{Level: "info", Format: "xml"}.Handler(&buf)
	assert.Error(t, err)
	_, err = config.LoggingSettings{Level: "loud", Format: "text"}.Handler(&buf)
	assert.Error(t, err)
}
