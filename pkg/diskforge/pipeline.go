package diskforge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/checkpoint"
	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
	"github.com/randalmurphal/diskforge/pkg/diskforge/observability"
	"github.com/randalmurphal/diskforge/pkg/diskforge/recovery"
	"github.com/randalmurphal/diskforge/pkg/diskforge/writer"
	"go.opentelemetry.io/otel/attribute"
)

// pipeline is the mutable state of one operation.
type pipeline struct {
	o      *Orchestrator
	op     *Operation
	logger *slog.Logger

	// req is the request for the next attempt; recovery actions adjust it.
	req writer.Request

	report Report
	dirty  bool
	last   writer.Progress

	// peak is the highest percentage published so far. Each attempt
	// restarts its own count, but the operation's never goes back.
	peak float64

	phase   fault.Phase
	fc      *fault.Context
	applied map[string]bool

	verifyStart time.Time
}

func (o *Orchestrator) run(ctx context.Context, op *Operation) Report {
	p := &pipeline{
		o:      o,
		op:     op,
		logger: observability.EnrichLogger(o.logger, op.id, op.device, fault.PhasePreparation),
		req: writer.Request{
			Source:      op.req.Source,
			Target:      op.req.Target,
			Verify:      op.req.Verify,
			OperationID: op.id,
		},
		report: Report{
			OperationID: op.id,
			Source:      op.req.Source,
			Target:      op.req.Target,
			Device:      op.device,
		},
		phase:   fault.PhasePreparation,
		applied: make(map[string]bool),
	}

	start := o.now()
	ctx, span := o.spans.StartOperationSpan(ctx, op.id, op.req.Source, op.req.Target)
	observability.LogWriteStart(p.logger, op.id, op.req.Source, op.req.Target, sourceSize(op.req.Source))

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			p.report.State = writer.StateCancelled
		} else {
			p.loop(ctx)
			o.sem.Release(1)
		}
	} else {
		p.loop(ctx)
	}

	if p.report.Checkpoint != "" {
		o.cps.Release(p.report.Checkpoint)
	}
	p.report.TargetDirty = p.dirty && p.report.State != writer.StateCompleted
	p.report.Duration = o.now().Sub(start)

	o.spans.EndSpanWithError(span, p.report.Err)
	o.metrics.RecordWrite(ctx, p.report.State.String(), p.report.BytesWritten, p.report.Duration)
	switch p.report.State {
	case writer.StateCompleted:
		observability.LogWriteComplete(p.logger, op.id, p.report.BytesWritten, p.report.Duration, p.report.Attempts)
	case writer.StateCancelled:
		p.logger.Warn("write operation cancelled",
			slog.Int64("bytes_written", p.report.BytesWritten),
			slog.Bool("target_dirty", p.report.TargetDirty),
		)
	default:
		observability.LogWriteError(p.logger, op.id, p.report.Err, p.phase, p.report.BytesWritten)
	}

	p.cleanup()

	final := p.last
	final.State = p.report.State
	final.Operation = p.report.State.Label()
	final.ETA = 0
	if final.State == writer.StateCompleted {
		final.Percentage = 100
	}
	op.pub.Final(final)
	return p.report
}

// loop runs attempts until one completes, is cancelled, or recovery gives up.
func (p *pipeline) loop(ctx context.Context) {
	for {
		p.report.Attempts++
		res := p.attempt(ctx)
		p.absorb(res)

		if res.State != writer.StateFailed {
			return
		}
		if !p.handleFailure(ctx, res.Err) {
			return
		}
	}
}

func (p *pipeline) attempt(ctx context.Context) (res writer.Result) {
	ctx, span := p.o.spans.StartAttemptSpan(ctx, p.report.Attempts)
	p.verifyStart = time.Time{}

	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Operation: p.op.id, Value: r, Stack: string(debug.Stack())}
			p.logger.Error("write attempt panicked", slog.Any("panic", r))
			res = writer.Result{
				State: writer.StateFailed,
				Err:   fault.WrapKind(fault.KindFatal, p.phase, "write", p.req.Target, perr),
			}
		}
		p.o.spans.EndSpanWithError(span, res.Err)
	}()

	res = p.o.runner.Run(ctx, p.req, p.hooks(ctx))

	if !p.verifyStart.IsZero() {
		var verr error
		if res.State == writer.StateFailed {
			verr = res.Err
		}
		p.o.metrics.RecordVerification(ctx, p.o.now().Sub(p.verifyStart), verr)
	}
	return res
}

func (p *pipeline) hooks(ctx context.Context) writer.Hooks {
	return writer.Hooks{
		BeforeWrite: p.beforeWrite,
		OnState: func(s writer.State) {
			if s.Terminal() {
				return
			}
			p.op.state.Store(int32(s))
			p.phase = phaseOf(s)
			if s == writer.StateVerifying {
				p.verifyStart = p.o.now()
			}
			p.o.spans.AddSpanEvent(ctx, "state."+s.String())
		},
		OnProgress: func(pr writer.Progress) {
			pr.Percentage = max(pr.Percentage, p.peak)
			p.peak = pr.Percentage
			p.last = pr
			if !pr.State.Terminal() {
				p.op.pub.Publish(pr)
			}
		},
	}
}

// beforeWrite persists the operation's rollback point before the first
// byte is written. Later attempts reuse it.
func (p *pipeline) beforeWrite(ctx context.Context) error {
	if p.report.Checkpoint != "" {
		return nil
	}

	cp, err := p.o.cps.CreateForOperation(ctx, p.op.id, fault.PhaseWriting, p.req.Target, []string{p.req.Source})
	if err != nil {
		observability.LogCheckpointError(p.logger, checkpoint.OperationCheckpointID(p.op.id, fault.PhaseWriting), "create", err)
		return err
	}
	p.o.cps.Acquire(cp.ID)
	p.report.Checkpoint = cp.ID

	var size int64
	if data, err := cp.Marshal(); err == nil {
		size = int64(len(data))
	}
	observability.LogCheckpoint(p.logger, cp.ID, cp.Phase)
	p.o.metrics.RecordCheckpoint(ctx, cp.Phase.String(), size)
	p.o.spans.AddSpanEvent(ctx, "checkpoint.created", attribute.String("checkpoint_id", cp.ID))
	return nil
}

func (p *pipeline) absorb(res writer.Result) {
	p.report.State = res.State
	p.report.TotalBytes = res.TotalBytes
	if !p.req.VerifyOnly {
		p.report.BytesWritten = res.BytesWritten
	}
	if res.BytesWritten > 0 {
		p.dirty = true
	}
	p.report.SourceDigest = res.SourceDigest
	p.report.TargetDigest = res.TargetDigest
}

// handleFailure classifies a failed attempt and executes a recovery action.
// It reports whether another attempt should be made.
func (p *pipeline) handleFailure(ctx context.Context, err error) bool {
	phase := fault.PhaseOf(err, p.phase)
	var fc fault.Context
	if p.fc == nil {
		fc = fault.NewContext(err, phase,
			fault.WithOperation(p.op.id),
			fault.WithPaths(p.req.Source, p.req.Target),
			fault.WithTimestamp(p.o.now()),
		)
	} else {
		fc = p.fc.Follow(err, phase)
	}
	if p.report.Checkpoint != "" {
		fc.Checkpoint = p.report.Checkpoint
	}
	p.fc = &fc
	p.phase = fc.Phase

	p.o.metrics.RecordFailure(ctx, fc.Kind, fc.Severity.String())
	observability.LogFailure(p.logger, fc)

	actions := p.o.coord.Analyze(fc)
	failure := &FailureError{
		Device:   p.req.Target,
		Context:  fc,
		Actions:  actions,
		Attempts: p.report.Attempts,
	}

	if fc.Severity == fault.SeverityFatal {
		p.report.Err = failure
		return false
	}
	if p.report.Attempts >= p.o.maxAttempts {
		failure.Exhausted = true
		p.report.Err = failure
		return false
	}

	action, ok := p.choose(ctx, fc, actions)
	if !ok {
		failure.Exhausted = len(p.report.Recoveries) > 0
		p.report.Err = failure
		return false
	}

	resolved, err := p.o.coord.Execute(ctx, action, fc)
	p.o.metrics.RecordRecovery(ctx, action.Strategy.String(), resolved)
	observability.LogRecovery(p.logger, p.op.id, action, p.report.Attempts, resolved)
	p.report.Recoveries = append(p.report.Recoveries, action)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		p.report.State = writer.StateCancelled
		return false
	}
	if err != nil || !resolved {
		failure.RecoveryErr = err
		p.report.Err = failure
		return false
	}

	p.apply(action, fc)
	return true
}

// choose picks the action to execute. Critical failures always go to the
// approver. Otherwise the best automatic retry or untried alternative
// wins, and the approver sees the list only when none is left.
func (p *pipeline) choose(ctx context.Context, fc fault.Context, actions []recovery.Action) (recovery.Action, bool) {
	if fc.Severity != fault.SeverityCritical {
		for _, a := range actions {
			if a.RequiresApproval {
				continue
			}
			switch a.Strategy {
			case recovery.StrategyRetry:
				return a, true
			case recovery.StrategyAlternative:
				if !p.tried(a) {
					return a, true
				}
			}
		}
	}

	if p.o.approver == nil || len(actions) == 0 {
		return recovery.Action{}, false
	}
	a, ok := p.o.approver.Approve(ctx, fc, actions)
	if !ok {
		p.logger.Info("recovery declined by approver", slog.String("severity", fc.Severity.String()))
		return recovery.Action{}, false
	}
	p.logger.Info("recovery action approved",
		slog.String("strategy", a.Strategy.String()),
		slog.String("description", a.Description),
	)
	return a.Approve(), true
}

func (p *pipeline) tried(a recovery.Action) bool {
	for k, v := range a.AlternativeParams {
		if !p.applied[k+"="+v] {
			return false
		}
	}
	return len(a.AlternativeParams) > 0
}

// apply adjusts the next attempt for an executed action. A failure during
// verification means the data was fully written, so retries and checksum
// changes only re-verify; everything else rewrites from the start.
func (p *pipeline) apply(a recovery.Action, fc fault.Context) {
	verifyOnly := p.req.Verify && fc.Phase == fault.PhaseVerification

	switch a.Strategy {
	case recovery.StrategyRetry:
		p.req.VerifyOnly = verifyOnly
	case recovery.StrategyRollback:
		p.req.VerifyOnly = false
	case recovery.StrategyAlternative:
		for k, v := range a.AlternativeParams {
			p.applied[k+"="+v] = true
		}
		p.req.VerifyOnly = verifyOnly
		if v, ok := a.AlternativeParams[recovery.ParamVerifyMethod]; ok {
			if m, err := writer.ParseVerifyMethod(v); err == nil {
				p.req.VerifyMethod = m
			}
		}
		if v, ok := a.AlternativeParams[recovery.ParamWriteStrategy]; ok {
			if s, err := writer.ParseStrategy(v); err == nil {
				p.req.Strategy = s
				p.req.VerifyOnly = false
			}
		}
	}
	p.logger.Debug("next attempt configured",
		slog.String("strategy", a.Strategy.String()),
		slog.Bool("verify_only", p.req.VerifyOnly),
	)
}

func (p *pipeline) cleanup() {
	if p.o.maxAge <= 0 {
		return
	}
	n, err := p.o.cps.Cleanup(p.o.maxAge)
	if err != nil {
		p.logger.Warn("checkpoint cleanup failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Debug("old checkpoints removed", slog.Int("count", n))
	}
}

func phaseOf(s writer.State) fault.Phase {
	switch s {
	case writer.StateValidating:
		return fault.PhaseValidation
	case writer.StateWriting:
		return fault.PhaseWriting
	case writer.StateVerifying:
		return fault.PhaseVerification
	default:
		return fault.PhasePreparation
	}
}

func sourceSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
