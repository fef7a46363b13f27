package fault

import (
	"slices"
	"time"
)

// Context is the record of one failure handed to recovery engines.
// It is a value type: derive a new Context with Next rather than mutating.
type Context struct {
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	Phase         Phase     `json:"phase"`
	Severity      Severity  `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`
	OperationID   string    `json:"operation_id,omitempty"`
	AffectedPaths []string  `json:"affected_paths,omitempty"`

	// Checkpoint is the rollback point of the operation, if one was persisted.
	Checkpoint string `json:"checkpoint,omitempty"`

	// Err is the original error. Not serialized.
	Err error `json:"-"`
}

// ContextOption configures a Context built by NewContext.
type ContextOption func(*Context)

// WithOperation sets the operation ID.
func WithOperation(id string) ContextOption {
	return func(c *Context) {
		c.OperationID = id
	}
}

// WithPaths sets the affected paths.
func WithPaths(paths ...string) ContextOption {
	return func(c *Context) {
		c.AffectedPaths = slices.Clone(paths)
	}
}

// WithCheckpoint sets the rollback checkpoint ID.
func WithCheckpoint(id string) ContextOption {
	return func(c *Context) {
		c.Checkpoint = id
	}
}

// WithRetryCount sets the retry count. Negative values are clamped to zero.
func WithRetryCount(n int) ContextOption {
	return func(c *Context) {
		c.RetryCount = max(n, 0)
	}
}

// WithTimestamp overrides the creation time.
func WithTimestamp(t time.Time) ContextOption {
	return func(c *Context) {
		c.Timestamp = t
	}
}

// NewContext builds the Context for err. The phase recorded on err (if it is
// a *Error) wins over the phase argument. Severity is computed with Classify.
func NewContext(err error, phase Phase, opts ...ContextOption) Context {
	phase = PhaseOf(err, phase)
	kind := KindOf(err)

	c := Context{
		Kind:      kind,
		Phase:     phase,
		Severity:  Classify(kind, phase),
		Timestamp: time.Now(),
		Err:       err,
	}
	if err != nil {
		c.Message = err.Error()
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Next returns the context for the following retry attempt of the same
// failure: identical, with RetryCount incremented.
func (c Context) Next() Context {
	next := c
	next.RetryCount = c.RetryCount + 1
	next.AffectedPaths = slices.Clone(c.AffectedPaths)
	return next
}

// Follow builds the context for a new failure err of the same operation.
// The retry count never decreases and the operation fields carry over.
func (c Context) Follow(err error, phase Phase) Context {
	next := NewContext(err, phase,
		WithOperation(c.OperationID),
		WithPaths(c.AffectedPaths...),
		WithCheckpoint(c.Checkpoint),
		WithRetryCount(c.RetryCount+1),
	)
	return next
}
