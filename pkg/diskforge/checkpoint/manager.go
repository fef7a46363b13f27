package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// Manager creates, restores and expires checkpoints. Records are cached in
// memory and always persisted to the Store before Create returns.
type Manager struct {
	store    Store
	capturer DeviceStateCapturer
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*State
	refs   map[string]int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCapturer sets the device state capturer. Without one, checkpoints
// carry no device state and rollback restores nothing on the device.
func WithCapturer(c DeviceStateCapturer) ManagerOption {
	return func(m *Manager) {
		m.capturer = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		states: make(map[string]*State),
		refs:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// Create captures the device state and source checksums and persists a
// checkpoint under id. It returns only after the store has accepted the
// record, so a destructive phase may start as soon as it returns.
func (m *Manager) Create(ctx context.Context, id string, phase fault.Phase, devicePath string, sourceFiles []string) (*State, error) {
	return m.create(ctx, id, "", phase, devicePath, sourceFiles)
}

// CreateForOperation creates the checkpoint "<opID>-<phase>".
func (m *Manager) CreateForOperation(ctx context.Context, opID string, phase fault.Phase, devicePath string, sourceFiles []string) (*State, error) {
	return m.create(ctx, OperationCheckpointID(opID, phase), opID, phase, devicePath, sourceFiles)
}

// OperationCheckpointID returns the checkpoint ID CreateForOperation uses.
func OperationCheckpointID(opID string, phase fault.Phase) string {
	return fmt.Sprintf("%s-%s", opID, phase)
}

func (m *Manager) create(ctx context.Context, id, opID string, phase fault.Phase, devicePath string, sourceFiles []string) (*State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := &State{
		Version:       SchemaVersion,
		ID:            id,
		Timestamp:     m.now().UTC(),
		Phase:         phase,
		OperationID:   opID,
		FileChecksums: make(map[string]string, len(sourceFiles)),
	}

	if devicePath != "" {
		state.DeviceState.Path = devicePath
		if m.capturer != nil {
			ds, err := m.capturer.Capture(ctx, devicePath)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", id, err)
			}
			state.DeviceState = ds
		}
	}

	for _, path := range sourceFiles {
		sum, err := PrefixChecksum(path)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: checksum %s: %w", id, path, err)
		}
		state.FileChecksums[path] = sum
	}

	data, err := state.Marshal()
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: encode: %w", id, err)
	}
	if err := m.store.Save(id, data); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", id, err)
	}

	m.mu.Lock()
	m.states[id] = state
	m.mu.Unlock()

	m.logger.Info("checkpoint created",
		slog.String("checkpoint_id", id),
		slog.String("phase", phase.String()),
		slog.String("device", devicePath),
		slog.Int("files", len(sourceFiles)),
	)
	return clone(state), nil
}

// Get returns a checkpoint without restoring anything.
// Returns ErrNotFound if it exists neither in memory nor in the store.
func (m *Manager) Get(id string) (*State, error) {
	state, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return clone(state), nil
}

func (m *Manager) lookup(id string) (*State, error) {
	m.mu.Lock()
	state, ok := m.states[id]
	m.mu.Unlock()
	if ok {
		return state, nil
	}

	data, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}
	state, err = Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", id, err)
	}

	m.mu.Lock()
	m.states[id] = state
	m.mu.Unlock()
	return state, nil
}

// Rollback loads the checkpoint and restores the recorded device state.
// The returned State tells the caller which phase to resume from.
// Returns ErrNotFound for unknown IDs.
func (m *Manager) Rollback(ctx context.Context, id string) (*State, error) {
	state, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	if m.capturer != nil && state.DeviceState.Path != "" {
		if err := m.capturer.Restore(ctx, state.DeviceState.Path, state.DeviceState); err != nil {
			return nil, fmt.Errorf("rollback %s: %w", id, err)
		}
	}

	m.logger.Info("checkpoint restored",
		slog.String("checkpoint_id", id),
		slog.String("phase", state.Phase.String()),
		slog.Bool("header_restored", len(state.DeviceState.Header) > 0),
	)
	return clone(state), nil
}

// List returns metadata for every stored checkpoint.
func (m *Manager) List() ([]Info, error) {
	return m.store.List()
}

// Delete removes a checkpoint from memory and the store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
	return m.store.Delete(id)
}

// Acquire marks a checkpoint as in use so Cleanup keeps it.
func (m *Manager) Acquire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[id]++
}

// Release drops a reference taken with Acquire.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[id] <= 1 {
		delete(m.refs, id)
		return
	}
	m.refs[id]--
}

// Cleanup deletes checkpoints older than maxAge that no in-flight recovery
// holds. Age is taken from the record timestamp, or the store timestamp for
// records that cannot be decoded. Returns the number deleted.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	infos, err := m.store.List()
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, info := range infos {
		m.mu.Lock()
		held := m.refs[info.ID] > 0
		m.mu.Unlock()
		if held {
			continue
		}

		created := info.Timestamp
		if state, err := m.lookup(info.ID); err == nil {
			created = state.Timestamp
		}
		if !created.Before(cutoff) {
			continue
		}

		if err := m.Delete(info.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("checkpoints cleaned up",
			slog.Int("removed", removed),
			slog.Duration("max_age", maxAge),
		)
	}
	return removed, errors.Join(errs...)
}

func clone(s *State) *State {
	c := *s
	c.FileChecksums = maps.Clone(s.FileChecksums)
	c.Metadata = maps.Clone(s.Metadata)
	if s.DeviceState.Header != nil {
		c.DeviceState.Header = append([]byte(nil), s.DeviceState.Header...)
	}
	return &c
}
