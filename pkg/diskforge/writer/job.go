package writer

import (
	"context"
	"sync/atomic"
)

// Job is a write running on a background goroutine.
type Job struct {
	req    Request
	cancel context.CancelFunc
	pub    *Publisher
	done   chan struct{}
	state  atomic.Int32
	result Result
}

// Start runs the write in the background. Progress is delivered on
// Job.Progress, which is closed after the final update; hooks.OnProgress,
// if set, also sees every update.
func (w *Writer) Start(ctx context.Context, req Request, hooks Hooks) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		req:    req,
		cancel: cancel,
		pub:    NewPublisher(w.config.ProgressBuffer),
		done:   make(chan struct{}),
	}

	onState, onProgress := hooks.OnState, hooks.OnProgress
	hooks.OnState = func(s State) {
		j.state.Store(int32(s))
		if onState != nil {
			onState(s)
		}
	}
	hooks.OnProgress = func(p Progress) {
		if p.State.Terminal() {
			j.pub.Final(p)
		} else {
			j.pub.Publish(p)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}

	go func() {
		defer close(j.done)
		defer j.pub.Close()
		defer cancel()
		j.result = w.Run(ctx, req, hooks)
	}()
	return j
}

// Request returns the request the job was started with.
func (j *Job) Request() Request {
	return j.req
}

// Progress returns the progress channel. It is closed when the job ends.
func (j *Job) Progress() <-chan Progress {
	return j.pub.C()
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its result.
func (j *Job) Wait() Result {
	<-j.done
	return j.result
}

// Cancel requests cancellation. The job ends in StateCancelled unless it
// already reached another terminal state.
func (j *Job) Cancel() {
	j.cancel()
}

// State returns the current state.
func (j *Job) State() State {
	return State(j.state.Load())
}
