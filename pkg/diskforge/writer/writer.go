// Package writer copies an image onto a raw device and verifies the result.
//
// A Writer runs one write at a time per call to Run:
//
//	Idle -> Validating -> Unmounting -> Writing -> (Verifying) -> Completed
//
// with Failed and Cancelled as the other terminal states. Every failure is
// returned as a *fault.Error tagged with the phase it happened in; the
// writer itself never retries. Recovery is the caller's job.
//
// Basic usage:
//
//	w := writer.New(classifier)
//	job := w.Start(ctx, writer.Request{Source: "image.iso", Target: "/dev/sdb", Verify: true}, writer.Hooks{})
//	for p := range job.Progress() {
//	    fmt.Printf("%.1f%%\n", p.Percentage)
//	}
//	res := job.Wait()
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/randalmurphal/diskforge/pkg/diskforge/device"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// Defaults for Config.
const (
	DefaultBufferSize       = 1 << 20
	DefaultSyncEvery        = 100
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultProgressBuffer   = 16

	// MinProgressInterval is the fastest progress cadence a sink sees.
	MinProgressInterval = 500 * time.Millisecond

	// SafeChunkSize is the chunk size of StrategySafe.
	SafeChunkSize = 64 << 10
)

// Config tunes the write loop.
type Config struct {
	// BufferSize is the chunk size for StrategyStandard.
	BufferSize int

	// SyncEvery is the number of chunks between durable syncs.
	SyncEvery int

	// ProgressInterval is the minimum time between progress updates.
	ProgressInterval time.Duration

	// ProgressBuffer is the capacity of a Job's progress channel.
	ProgressBuffer int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:       DefaultBufferSize,
		SyncEvery:        DefaultSyncEvery,
		ProgressInterval: DefaultProgressInterval,
		ProgressBuffer:   DefaultProgressBuffer,
	}
}

func (c Config) normalized() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.SyncEvery <= 0 {
		c.SyncEvery = DefaultSyncEvery
	}
	if c.ProgressInterval < MinProgressInterval {
		c.ProgressInterval = MinProgressInterval
	}
	if c.ProgressBuffer <= 0 {
		c.ProgressBuffer = DefaultProgressBuffer
	}
	return c
}

// Request describes one write.
type Request struct {
	Source string
	Target string
	Verify bool

	// OperationID is attached to log lines.
	OperationID string

	Strategy     Strategy
	VerifyMethod VerifyMethod

	// VerifyOnly skips unmounting and writing and checks a target written
	// by an earlier run. BeforeWrite is not called.
	VerifyOnly bool
}

// Result is the outcome of a write. State is always terminal.
type Result struct {
	State         State
	BytesWritten  int64
	BytesVerified int64
	TotalBytes    int64

	// SourceDigest and TargetDigest are hex SHA-256 digests, set when the
	// verification pass ran to the end.
	SourceDigest string
	TargetDigest string

	Duration time.Duration

	// Err is set when State is StateFailed.
	Err error
}

// Hooks are callbacks invoked synchronously from the write goroutine.
type Hooks struct {
	// BeforeWrite runs after unmounting and before the first byte is
	// written. An error aborts the write with the target untouched.
	BeforeWrite func(ctx context.Context) error

	// OnState is called on every state transition.
	OnState func(State)

	// OnProgress receives throttled progress updates.
	OnProgress func(Progress)
}

// TargetValidator decides whether a target may be overwritten.
// *device.Classifier implements it.
type TargetValidator interface {
	ValidateTarget(path string) error
}

// Writer performs verified writes. It is safe for concurrent use; each
// Run is independent.
type Writer struct {
	validator TargetValidator
	unmounter device.Unmounter
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithConfig sets the write loop configuration.
func WithConfig(c Config) Option {
	return func(w *Writer) {
		w.config = c
	}
}

// WithUnmounter sets the unmounter used before writing. Without one the
// unmount step is skipped.
func WithUnmounter(u device.Unmounter) Option {
	return func(w *Writer) {
		w.unmounter = u
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithClock overrides the time source used for progress and durations.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// New creates a writer. The validator is mandatory: a nil validator makes
// every write fail validation.
func New(validator TargetValidator, opts ...Option) *Writer {
	w := &Writer{
		validator: validator,
		config:    DefaultConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.config = w.config.normalized()
	return w
}

// Config returns the effective configuration.
func (w *Writer) Config() Config {
	return w.config
}

// run holds the mutable state of one Run.
type run struct {
	w       *Writer
	req     Request
	hooks   Hooks
	logger  *slog.Logger
	track   *tracker
	started time.Time
	result  Result
}

// Run performs the write synchronously and returns its result.
func (w *Writer) Run(ctx context.Context, req Request, hooks Hooks) Result {
	r := &run{
		w:       w,
		req:     req,
		hooks:   hooks,
		logger:  w.logger.With(slog.String("operation_id", req.OperationID), slog.String("target", req.Target)),
		started: w.now(),
	}
	r.track = newTracker(w.now, w.config.ProgressInterval, hooks.OnProgress)

	err := r.execute(ctx)
	r.result.Duration = w.now().Sub(r.started)

	switch {
	case err == nil:
		r.setState(StateCompleted)
		r.track.final(StateCompleted)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		r.setState(StateCancelled)
		r.track.final(StateCancelled)
		r.logger.Warn("write cancelled",
			slog.Int64("bytes_written", r.result.BytesWritten),
			slog.Int64("total_bytes", r.result.TotalBytes),
		)
	default:
		r.result.Err = err
		r.setState(StateFailed)
		r.track.final(StateFailed)
	}
	return r.result
}

func (r *run) setState(s State) {
	r.result.State = s
	r.track.setState(s)
	r.logger.Debug("writer state", slog.String("state", s.String()))
	if r.hooks.OnState != nil {
		r.hooks.OnState(s)
	}
}

func (r *run) execute(ctx context.Context) error {
	r.setState(StateValidating)
	total, err := r.validate()
	if err != nil {
		return err
	}
	r.result.TotalBytes = total
	r.track.total = total

	if r.req.VerifyOnly {
		r.track.verifyOnly = true
		r.setState(StateVerifying)
		return r.verify(ctx, total)
	}

	r.setState(StateUnmounting)
	if r.w.unmounter != nil {
		if err := r.w.unmounter.Unmount(ctx, r.req.Target); err != nil {
			r.logger.Warn("unmount failed, writing anyway", slog.String("error", err.Error()))
		}
	}

	if r.hooks.BeforeWrite != nil {
		if err := r.hooks.BeforeWrite(ctx); err != nil {
			return fault.Wrap(fault.PhaseBackup, "checkpoint", r.req.Target, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.setState(StateWriting)
	r.logger.Info("writing image",
		slog.String("source", r.req.Source),
		slog.String("size", humanize.IBytes(uint64(total))),
		slog.String("strategy", r.req.Strategy.String()),
	)
	if err := r.write(ctx, total); err != nil {
		return err
	}

	if !r.req.Verify {
		return nil
	}
	r.setState(StateVerifying)
	return r.verify(ctx, total)
}

// validate checks the source and target and returns the source size.
func (r *run) validate() (int64, error) {
	invalidSource := func(err error) error {
		return fault.WrapKind(fault.KindInvalidSource, fault.PhaseValidation, "validate source", r.req.Source,
			fmt.Errorf("%w: %w", fault.ErrInvalidSource, err))
	}

	info, err := os.Stat(r.req.Source)
	if err != nil {
		return 0, invalidSource(err)
	}
	if !info.Mode().IsRegular() {
		return 0, invalidSource(errors.New("not a regular file"))
	}
	if info.Size() == 0 {
		return 0, invalidSource(errors.New("empty file"))
	}
	f, err := os.Open(r.req.Source)
	if err != nil {
		return 0, invalidSource(err)
	}
	_ = f.Close()

	if r.w.validator == nil {
		return 0, fault.WrapKind(fault.KindInvalidTarget, fault.PhaseValidation, "validate target", r.req.Target,
			fmt.Errorf("%w: no target validator configured", fault.ErrInvalidTarget))
	}
	if err := r.w.validator.ValidateTarget(r.req.Target); err != nil {
		return 0, fault.Wrap(fault.PhaseValidation, "validate target", r.req.Target, err)
	}
	return info.Size(), nil
}

// chunking returns the chunk size and sync cadence for the strategy.
func (r *run) chunking() (int, int) {
	if r.req.Strategy == StrategySafe {
		return SafeChunkSize, 1
	}
	return r.w.config.BufferSize, r.w.config.SyncEvery
}

func (r *run) write(ctx context.Context, total int64) error {
	chunkSize, syncEvery := r.chunking()

	src, err := os.Open(r.req.Source)
	if err != nil {
		return wrapAs(fault.KindRead, fault.PhaseWriting, "open source", r.req.Source, err)
	}
	defer src.Close()

	// Devices are never created or truncated.
	dst, err := os.OpenFile(r.req.Target, os.O_WRONLY, 0)
	if err != nil {
		return fault.Wrap(fault.PhaseWriting, "open target", r.req.Target, err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = dst.Close()
		}
	}()

	r.track.update(0, true)

	buf := make([]byte, chunkSize)
	in := io.LimitReader(src, total)
	chunks := 0
	for r.result.BytesWritten < total {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			r.result.BytesWritten += int64(m)
			if werr != nil {
				return wrapAs(fault.KindWrite, fault.PhaseWriting, "write", r.req.Target, werr)
			}
			chunks++
			if chunks%syncEvery == 0 {
				if err := dst.Sync(); err != nil {
					return wrapAs(fault.KindWrite, fault.PhaseWriting, "sync", r.req.Target, err)
				}
			}
			r.track.update(r.result.BytesWritten, false)
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return wrapAs(fault.KindRead, fault.PhaseWriting, "read", r.req.Source, rerr)
		}
	}

	if r.result.BytesWritten < total {
		return fault.WrapKind(fault.KindRead, fault.PhaseWriting, "read", r.req.Source,
			fmt.Errorf("source ended after %d of %d bytes", r.result.BytesWritten, total))
	}

	if err := dst.Sync(); err != nil {
		return wrapAs(fault.KindWrite, fault.PhaseWriting, "sync", r.req.Target, err)
	}
	closed = true
	if err := dst.Close(); err != nil {
		return wrapAs(fault.KindWrite, fault.PhaseWriting, "close", r.req.Target, err)
	}
	syncFilesystems()

	r.logger.Debug("write finished",
		slog.Int64("bytes_written", r.result.BytesWritten),
		slog.Int("chunks", chunks),
	)
	return nil
}

// wrapAs tags err with kind unless KindOf finds something more specific
// than a generic I/O error.
func wrapAs(kind string, phase fault.Phase, op, path string, err error) error {
	if k := fault.KindOf(err); k != fault.KindIO {
		kind = k
	}
	return fault.WrapKind(kind, phase, op, path, err)
}
