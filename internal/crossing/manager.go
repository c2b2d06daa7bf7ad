package crossing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/timeutil"
)

// ErrNotFound is returned for an unknown simulation id.
var ErrNotFound = errors.New("simulation not found")

// Checkpointer persists simulations run by a Manager. Only the latest
// snapshot of each simulation needs to be kept.
type Checkpointer interface {
	SaveSimulation(ctx context.Context, id string, cfg *config.SimulationConfig, createdAt time.Time) error
	SaveCheckpoint(ctx context.Context, id string, snap Snapshot) error
	RecordSummary(ctx context.Context, id string, state State) error
}

// Info describes one running simulation.
type Info struct {
	ID        string                   `json:"id"`
	CreatedAt time.Time                `json:"created_at"`
	Config    *config.SimulationConfig `json:"config"`
	Tick      int64                    `json:"tick"`
	State     State                    `json:"-"`
}

type entry struct {
	id        string
	createdAt time.Time
	cfg       *config.SimulationConfig
	sim       *Simulation
	cancel    context.CancelFunc
	done      chan struct{}
}

// Manager runs a gallery of independent simulations, each on its own
// runner goroutine.
type Manager struct {
	clock timeutil.Clock
	store Checkpointer

	mu     sync.Mutex
	sims   map[string]*entry
	closed bool
	wg     sync.WaitGroup
}

// NewManager returns an empty gallery. A nil clock uses the wall clock; a
// nil store disables persistence.
func NewManager(clock timeutil.Clock, store Checkpointer) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		clock: clock,
		store: store,
		sims:  make(map[string]*entry),
	}
}

// Create validates cfg, starts a new simulation and returns its id.
func (m *Manager) Create(ctx context.Context, cfg *config.SimulationConfig) (string, error) {
	return m.start(ctx, uuid.NewString(), cfg, nil)
}

// Resume starts a simulation under an existing id from a saved snapshot.
func (m *Manager) Resume(ctx context.Context, id string, cfg *config.SimulationConfig, snap Snapshot) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid simulation id %q: %w", id, err)
	}
	return m.start(ctx, id, cfg, &snap)
}

func (m *Manager) start(ctx context.Context, id string, cfg *config.SimulationConfig, snap *Snapshot) (string, error) {
	if cfg == nil {
		cfg = config.EmptySimulationConfig()
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	opts := []Option{WithClock(m.clock)}
	if seed, ok := cfg.GetSeed(); ok {
		opts = append(opts, WithSeed(seed))
	}
	sim, err := New(cfg.ToModelConfig(), opts...)
	if err != nil {
		return "", err
	}
	if snap != nil {
		if err := sim.Restore(*snap); err != nil {
			sim.Close()
			return "", err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sim.Close()
		return "", ErrClosed
	}
	if _, exists := m.sims[id]; exists {
		m.mu.Unlock()
		sim.Close()
		return "", fmt.Errorf("simulation %s already running", id)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		id:        id,
		createdAt: m.clock.Now(),
		cfg:       cfg,
		sim:       sim,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.sims[id] = e
	m.wg.Add(1)
	m.mu.Unlock()

	if m.store != nil && snap == nil {
		if err := m.store.SaveSimulation(ctx, id, cfg, e.createdAt); err != nil {
			logf("failed to save simulation %s: %v", id, err)
		}
	}

	go m.run(runCtx, e)
	logf("started simulation %s", id)
	return id, nil
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer close(e.done)

	every := int64(e.cfg.GetCheckpointInterval() / e.cfg.GetTickInterval())
	if every < 1 {
		every = 1
	}
	r := &Runner{Sim: e.sim}
	if m.store != nil {
		r.OnTick = func(tick int64) {
			if tick%every == 0 {
				m.checkpoint(ctx, e)
			}
		}
	}

	err := r.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logf("simulation %s stopped: %v", e.id, err)
	}
}

func (m *Manager) checkpoint(ctx context.Context, e *entry) {
	snap, err := e.sim.Snapshot()
	if err != nil {
		logf("failed to snapshot simulation %s: %v", e.id, err)
		return
	}
	if err := m.store.SaveCheckpoint(ctx, e.id, snap); err != nil && ctx.Err() == nil {
		logf("failed to checkpoint simulation %s: %v", e.id, err)
	}
}

// Get returns the running simulation with the given id.
func (m *Manager) Get(id string) (*Simulation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.sim, nil
}

// Info returns the description of one simulation.
func (m *Manager) Info(id string) (Info, error) {
	m.mu.Lock()
	e, ok := m.sims[id]
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.info(), nil
}

// List returns all simulations, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sims))
	for _, e := range m.sims {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *entry) info() Info {
	state := e.sim.State()
	return Info{
		ID:        e.id,
		CreatedAt: e.createdAt,
		Config:    e.cfg,
		Tick:      state.Tick,
		State:     state,
	}
}

// Delete stops a simulation, waits for its runner and records its final
// summary.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sims[id]
	if ok {
		delete(m.sims, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.stop(ctx, e)
	logf("deleted simulation %s after %d ticks", id, e.sim.TickCount())
	return nil
}

func (m *Manager) stop(ctx context.Context, e *entry) {
	e.cancel()
	<-e.done
	if m.store == nil {
		return
	}
	snap, err := e.sim.Snapshot()
	if err == nil {
		err = m.store.SaveCheckpoint(ctx, e.id, snap)
	}
	if err != nil {
		logf("failed to save final checkpoint of %s: %v", e.id, err)
	}
	if err := m.store.RecordSummary(ctx, e.id, e.sim.State()); err != nil {
		logf("failed to record summary of %s: %v", e.id, err)
	}
}

// Close stops every simulation without recording summaries, so they can
// be resumed from their last checkpoint. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.sims))
	for _, e := range m.sims {
		entries = append(entries, e)
	}
	m.sims = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.done
		if m.store != nil {
			m.checkpoint(context.Background(), e)
		}
	}
	m.wg.Wait()
}
