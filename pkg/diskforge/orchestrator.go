package diskforge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/device"
	"github.com/randalmurphal/diskforge/pkg/diskforge/observability"
	"github.com/randalmurphal/diskforge/pkg/diskforge/recovery"
	"github.com/randalmurphal/diskforge/pkg/diskforge/writer"
	"golang.org/x/sync/semaphore"
)

// Runner performs a single write attempt. *writer.Writer implements it.
type Runner interface {
	Run(ctx context.Context, req writer.Request, hooks writer.Hooks) writer.Result
}

// Request describes a write operation.
type Request struct {
	Source string
	Target string
	Verify bool
}

// Orchestrator runs write operations with checkpointing and recovery.
// It allows one operation per physical device at a time; aliases of a
// device share its lock (see device.Canonical).
type Orchestrator struct {
	runner   Runner
	cps      *checkpoint.Manager
	coord    *recovery.Coordinator
	approver Approver
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	maxAttempts    int
	maxConcurrent  int
	maxAge         time.Duration
	progressBuffer int
	sem            *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*Operation
	wg     sync.WaitGroup
}

// New creates an orchestrator that writes with runner and checkpoints
// through cps. A nil cps keeps checkpoints in memory only.
func New(runner Runner, cps *checkpoint.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:         runner,
		cps:            cps,
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		logger:         slog.Default(),
		now:            time.Now,
		newID:          newOperationID,
		maxAttempts:    DefaultMaxAttempts,
		progressBuffer: writer.DefaultProgressBuffer,
		active:         make(map[string]*Operation),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cps == nil {
		o.cps = checkpoint.NewManager(checkpoint.NewMemoryStore(), checkpoint.WithLogger(o.logger))
	}
	if o.coord == nil {
		o.coord = recovery.NewCoordinator(
			recovery.WithRollbacker(o.cps),
			recovery.WithLogger(o.logger),
		)
	}
	if o.maxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(o.maxConcurrent))
	}
	return o
}

// Checkpoints returns the checkpoint manager.
func (o *Orchestrator) Checkpoints() *checkpoint.Manager {
	return o.cps
}

// Coordinator returns the recovery coordinator.
func (o *Orchestrator) Coordinator() *recovery.Coordinator {
	return o.coord
}

// Submit starts a write in the background and returns immediately.
// Returns ErrDeviceBusy if the target's base device already has an
// operation in flight. Cancelling ctx cancels the operation.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Operation, error) {
	dev := device.BaseDevice(req.Target)
	key := device.Canonical(req.Target)

	opCtx, cancel := context.WithCancel(ctx)
	op := &Operation{
		id:     o.newID(),
		device: dev,
		req:    req,
		cancel: cancel,
		pub:    writer.NewPublisher(o.progressBuffer),
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	if cur, ok := o.active[key]; ok {
		o.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s is in use by operation %s", ErrDeviceBusy, key, cur.id)
	}
	o.active[key] = op
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer cancel()

		report := o.run(opCtx, op)

		o.mu.Lock()
		delete(o.active, key)
		o.mu.Unlock()

		op.finish(report)
	}()
	return op, nil
}

// Write runs a write and blocks until it finishes. The returned error is
// the report's Err: nil for completed and cancelled writes.
func (o *Orchestrator) Write(ctx context.Context, req Request) (Report, error) {
	op, err := o.Submit(ctx, req)
	if err != nil {
		return Report{}, err
	}
	report := op.Wait()
	return report, report.Err
}

// Active returns the canonical devices with an operation in flight, sorted.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	devs := make([]string, 0, len(o.active))
	for dev := range o.active {
		devs = append(devs, dev)
	}
	slices.Sort(devs)
	return devs
}

// CancelAll requests cancellation of every operation in flight.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range o.active {
		op.Cancel()
	}
}

// Wait blocks until every submitted operation has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
