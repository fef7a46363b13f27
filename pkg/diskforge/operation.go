package diskforge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/recovery"
	"github.com/randalmurphal/diskforge/pkg/diskforge/writer"
)

// Report is the outcome of an operation. State is always terminal.
type Report struct {
	OperationID string
	Source      string
	Target      string

	// Device is the base device the operation held.
	Device string

	State        writer.State
	BytesWritten int64
	TotalBytes   int64
	SourceDigest string
	TargetDigest string

	// Attempts is the number of write attempts made.
	Attempts int

	// Recoveries lists the recovery actions executed, in order.
	Recoveries []recovery.Action

	// Checkpoint is the ID of the rollback point taken before writing.
	Checkpoint string

	// TargetDirty is true when the target was partially overwritten and
	// the operation did not complete. Nothing is wiped.
	TargetDirty bool

	Duration time.Duration

	// Err is a *FailureError when State is StateFailed.
	Err error
}

// Operation is a write running in the background.
type Operation struct {
	id     string
	device string
	req    Request
	cancel context.CancelFunc
	pub    *writer.Publisher
	done   chan struct{}
	state  atomic.Int32
	report Report
}

// ID returns the operation ID.
func (op *Operation) ID() string {
	return op.id
}

// Device returns the base device the operation holds.
func (op *Operation) Device() string {
	return op.device
}

// Request returns the request the operation was submitted with.
func (op *Operation) Request() Request {
	return op.req
}

// Progress returns the progress channel. Updates are dropped when the
// reader falls behind; the final update is always delivered and the
// channel is closed after it.
func (op *Operation) Progress() <-chan writer.Progress {
	return op.pub.C()
}

// Done is closed when the operation has finished.
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait blocks until the operation finishes and returns its report.
func (op *Operation) Wait() Report {
	<-op.done
	return op.report
}

// Cancel requests cancellation. The operation ends in StateCancelled
// unless it already reached another terminal state.
func (op *Operation) Cancel() {
	op.cancel()
}

// State returns the current state. Failed attempts that are being
// recovered are not reported as Failed.
func (op *Operation) State() writer.State {
	return writer.State(op.state.Load())
}

func (op *Operation) finish(r Report) {
	op.report = r
	op.state.Store(int32(r.State))
	op.pub.Close()
	close(op.done)
}
