package writer

import (
	"sync"
	"time"
)

// Progress is a snapshot of a running write.
type Progress struct {
	BytesWritten int64
	TotalBytes   int64

	// Percentage of TotalBytes written, in [0, 100]. A verify-only run
	// counts verified bytes instead.
	Percentage float64

	// Speed is bytes per second since the previous update.
	Speed float64

	// ETA is the estimated remaining time at Speed, 0 when Speed is 0.
	ETA time.Duration

	// Operation is a human label for the current step.
	Operation string

	BytesVerified int64
	State         State
}

// tracker throttles progress updates to the configured interval.
type tracker struct {
	now      func() time.Time
	interval time.Duration
	sink     func(Progress)

	total      int64
	verifyOnly bool
	state      State
	written    int64
	verified   int64
	last       time.Time
	lastBytes  int64
	speed      float64
}

func newTracker(now func() time.Time, interval time.Duration, sink func(Progress)) *tracker {
	return &tracker{now: now, interval: interval, sink: sink}
}

func (t *tracker) setState(s State) {
	if t.state != s {
		// Speed restarts with each byte-moving phase.
		t.last = time.Time{}
		t.lastBytes = 0
		t.speed = 0
	}
	t.state = s
}

// current returns the byte counter that moves in the current state.
func (t *tracker) current() int64 {
	if t.state == StateVerifying {
		return t.verified
	}
	return t.written
}

func (t *tracker) update(written int64, force bool) {
	t.written = written
	t.emit(force)
}

func (t *tracker) updateVerified(verified int64, force bool) {
	t.verified = verified
	t.emit(force)
}

func (t *tracker) emit(force bool) {
	if t.sink == nil {
		return
	}
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		t.lastBytes = t.current()
	} else if elapsed := now.Sub(t.last); elapsed >= t.interval {
		cur := t.current()
		t.speed = float64(cur-t.lastBytes) / elapsed.Seconds()
		t.last = now
		t.lastBytes = cur
	} else if !force {
		return
	}
	t.sink(t.snapshot())
}

func (t *tracker) snapshot() Progress {
	p := Progress{
		BytesWritten:  t.written,
		TotalBytes:    t.total,
		Speed:         t.speed,
		BytesVerified: t.verified,
		State:         t.state,
		Operation:     t.state.Label(),
	}
	if t.total > 0 {
		done := t.written
		if t.verifyOnly {
			done = t.verified
		}
		p.Percentage = min(100, float64(done)*100/float64(t.total))
	}
	if t.speed > 0 {
		remaining := t.total - t.current()
		p.ETA = time.Duration(float64(remaining) / t.speed * float64(time.Second))
	}
	return p
}

// final publishes the terminal update regardless of throttling.
func (t *tracker) final(s State) {
	if t.sink == nil {
		return
	}
	p := t.snapshot()
	p.State = s
	p.Operation = s.Label()
	p.ETA = 0
	if s == StateCompleted {
		p.Percentage = 100
	}
	t.sink(p)
}

// Label returns the human label used for Progress.Operation.
func (s State) Label() string {
	switch s {
	case StateValidating:
		return "Validating"
	case StateUnmounting:
		return "Unmounting"
	case StateWriting:
		return "Writing"
	case StateVerifying:
		return "Verifying"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Idle"
	}
}

// Publisher fans progress into a bounded channel without ever blocking
// the writer. Intermediate updates are dropped when the reader falls
// behind; the final update always replaces the oldest queued one.
type Publisher struct {
	ch chan Progress

	mu     sync.Mutex
	closed bool
}

// NewPublisher creates a publisher with the given channel capacity.
func NewPublisher(size int) *Publisher {
	if size <= 0 {
		size = DefaultProgressBuffer
	}
	return &Publisher{ch: make(chan Progress, size)}
}

// C returns the receive side of the channel. It is closed by Close.
func (p *Publisher) C() <-chan Progress {
	return p.ch
}

// Publish queues an update, dropping it if the channel is full.
// Reports whether the update was queued.
func (p *Publisher) Publish(pr Progress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- pr:
		return true
	default:
		return false
	}
}

// Final queues an update that must not be lost, evicting queued updates
// until it fits.
func (p *Publisher) Final(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for {
		select {
		case p.ch <- pr:
			return
		default:
		}
		select {
		case <-p.ch:
		default:
		}
	}
}

// Close closes the channel. Further publishes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}
