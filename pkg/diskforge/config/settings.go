package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/writer"
)

// ErrInvalidSettings wraps every decoding and validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Checkpoint backends.
const (
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatTint = "tint"
)

// Settings is the complete diskforge configuration.
type Settings struct {
	Writer        WriterSettings        `yaml:"writer" json:"writer"`
	Checkpoint    CheckpointSettings    `yaml:"checkpoint" json:"checkpoint"`
	Orchestrator  OrchestratorSettings  `yaml:"orchestrator" json:"orchestrator"`
	Logging       LoggingSettings       `yaml:"logging" json:"logging"`
	Observability ObservabilitySettings `yaml:"observability" json:"observability"`
}

// WriterSettings tunes the write loop.
type WriterSettings struct {
	BufferSize       int64         `yaml:"buffer_size" json:"buffer_size"`
	SyncEvery        int           `yaml:"sync_every" json:"sync_every"`
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
	Verify           bool          `yaml:"verify" json:"verify"`
}

// CheckpointSettings selects and tunes checkpoint storage.
type CheckpointSettings struct {
	// Dir holds the checkpoint files or database. Empty means the user
	// cache directory.
	Dir            string        `yaml:"dir" json:"dir"`
	Backend        string        `yaml:"backend" json:"backend"`
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
	PreserveHeader bool          `yaml:"preserve_header" json:"preserve_header"`
	HeaderSize     int64         `yaml:"header_size" json:"header_size"`
}

// OrchestratorSettings bounds recovery and concurrency.
type OrchestratorSettings struct {
	MaxAttempts      int  `yaml:"max_attempts" json:"max_attempts"`
	MaxConcurrent    int  `yaml:"max_concurrent" json:"max_concurrent"`
	AllowSystemDrive bool `yaml:"allow_system_drive" json:"allow_system_drive"`
}

// LoggingSettings selects the log level and handler.
type LoggingSettings struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ObservabilitySettings toggles OpenTelemetry instrumentation.
type ObservabilitySettings struct {
	Metrics bool `yaml:"metrics" json:"metrics"`
	Tracing bool `yaml:"tracing" json:"tracing"`
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		Writer: WriterSettings{
			BufferSize:       writer.DefaultBufferSize,
			SyncEvery:        writer.DefaultSyncEvery,
			ProgressInterval: writer.DefaultProgressInterval,
			Verify:           true,
		},
		Checkpoint: CheckpointSettings{
			Backend:    BackendDir,
			MaxAge:     24 * time.Hour,
			HeaderSize: checkpoint.DefaultHeaderSize,
		},
		Orchestrator: OrchestratorSettings{
			MaxAttempts: 8,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Parse decodes values over the defaults and validates the result.
func Parse(v Values) (Settings, error) {
	s := Default()
	d := decoder{v: v}

	d.bytes("writer.buffer_size", &s.Writer.BufferSize)
	d.int("writer.sync_every", &s.Writer.SyncEvery)
	d.duration("writer.progress_interval", &s.Writer.ProgressInterval)
	d.bool("writer.verify", &s.Writer.Verify)

	d.string("checkpoint.dir", &s.Checkpoint.Dir)
	d.string("checkpoint.backend", &s.Checkpoint.Backend)
	d.duration("checkpoint.max_age", &s.Checkpoint.MaxAge)
	d.bool("checkpoint.preserve_header", &s.Checkpoint.PreserveHeader)
	d.bytes("checkpoint.header_size", &s.Checkpoint.HeaderSize)

	d.int("orchestrator.max_attempts", &s.Orchestrator.MaxAttempts)
	d.int("orchestrator.max_concurrent", &s.Orchestrator.MaxConcurrent)
	d.bool("orchestrator.allow_system_drive", &s.Orchestrator.AllowSystemDrive)

	d.string("logging.level", &s.Logging.Level)
	d.string("logging.format", &s.Logging.Format)

	d.bool("observability.metrics", &s.Observability.Metrics)
	d.bool("observability.tracing", &s.Observability.Tracing)

	if err := errors.Join(d.errs...); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks ranges and enumerations.
func (s Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(s.Writer.BufferSize >= 4<<10 && s.Writer.BufferSize <= 256<<20,
		"writer.buffer_size must be between 4KiB and 256MiB, got %d", s.Writer.BufferSize)
	check(s.Writer.SyncEvery >= 1, "writer.sync_every must be at least 1, got %d", s.Writer.SyncEvery)
	check(s.Writer.ProgressInterval >= 0, "writer.progress_interval must not be negative")

	check(s.Checkpoint.Backend == BackendDir || s.Checkpoint.Backend == BackendSQLite,
		"checkpoint.backend must be %q or %q, got %q", BackendDir, BackendSQLite, s.Checkpoint.Backend)
	check(s.Checkpoint.MaxAge > 0, "checkpoint.max_age must be positive")
	check(s.Checkpoint.HeaderSize > 0, "checkpoint.header_size must be positive")

	check(s.Orchestrator.MaxAttempts >= 1, "orchestrator.max_attempts must be at least 1, got %d", s.Orchestrator.MaxAttempts)
	check(s.Orchestrator.MaxConcurrent >= 0, "orchestrator.max_concurrent must not be negative")

	_, err := ParseLevel(s.Logging.Level)
	check(err == nil, "logging.level: %v", err)
	switch s.Logging.Format {
	case FormatText, FormatJSON, FormatTint:
	default:
		check(false, "logging.format must be text, json or tint, got %q", s.Logging.Format)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Config returns the writer configuration.
func (w WriterSettings) Config() writer.Config {
	cfg := writer.DefaultConfig()
	cfg.BufferSize = int(w.BufferSize)
	cfg.SyncEvery = w.SyncEvery
	cfg.ProgressInterval = w.ProgressInterval
	return cfg
}

// ResolvedDir returns Dir, or the default location under the user cache
// directory when Dir is empty.
func (c CheckpointSettings) ResolvedDir() (string, error) {
	if c.Dir != "" {
		return c.Dir, nil
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate checkpoint directory: %w", err)
	}
	return filepath.Join(cache, "diskforge", "checkpoints"), nil
}

// OpenStore opens the configured checkpoint store.
func (c CheckpointSettings) OpenStore() (checkpoint.Store, error) {
	dir, err := c.ResolvedDir()
	if err != nil {
		return nil, err
	}
	switch c.Backend {
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
		store, err := checkpoint.NewSQLiteStore(filepath.Join(dir, "checkpoints.db"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendDir, "":
		store, err := checkpoint.NewDirStore(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown checkpoint backend %q", ErrInvalidSettings, c.Backend)
	}
}

// Capturer returns the device state capturer for the settings.
func (c CheckpointSettings) Capturer() checkpoint.HeaderCapturer {
	return checkpoint.HeaderCapturer{HeaderSize: c.HeaderSize, Preserve: c.PreserveHeader}
}

// ParseLevel parses a level name.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// Handler builds the slog handler writing to w.
func (l LoggingSettings) Handler(w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	switch l.Format {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatTint:
		return tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}), nil
	case FormatText, "":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	}
	return nil, fmt.Errorf("unknown log format %q", l.Format)
}

// Logger builds a logger writing to w.
func (l LoggingSettings) Logger(w io.Writer) (*slog.Logger, error) {
	h, err := l.Handler(w)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// decoder applies present keys strictly, collecting conversion errors.
type decoder struct {
	v    Values
	errs []error
}

func (d *decoder) fail(key string, err error) {
	d.errs = append(d.errs, fmt.Errorf("%s: %w", key, err))
}

func (d *decoder) bytes(key string, dst *int64) {
	if raw, ok := d.v.Lookup(key); ok {
		n, err := ParseBytes(raw)
		if err != nil {
			d.fail(key, err)
			return
		}
		*dst = n
	}
}

func (d *decoder) int(key string, dst *int) {
	if raw, ok := d.v.Lookup(key); ok {
		n, err := toInt(raw)
		if err != nil {
			d.fail(key, err)
			return
		}
		*dst = n
	}
}

func (d *decoder) duration(key string, dst *time.Duration) {
	if raw, ok := d.v.Lookup(key); ok {
		dur, err := toDuration(raw)
		if err != nil {
			d.fail(key, err)
			return
		}
		*dst = dur
	}
}

func (d *decoder) bool(key string, dst *bool) {
	if raw, ok := d.v.Lookup(key); ok {
		b, isBool := raw.(bool)
		if !isBool {
			d.fail(key, fmt.Errorf("cannot use %v as a boolean", raw))
			return
		}
		*dst = b
	}
}

func (d *decoder) string(key string, dst *string) {
	if raw, ok := d.v.Lookup(key); ok {
		s, isString := raw.(string)
		if !isString {
			d.fail(key, fmt.Errorf("cannot use %v as a string", raw))
			return
		}
		*dst = s
	}
}
