// Package crossing ties one traffic lane to its signal controller and
// drives them on a clock, alone or as a gallery of concurrent runs.
package crossing

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/crossing/internal/monitoring"
	"github.com/banshee-data/crossing/internal/signal"
	"github.com/banshee-data/crossing/internal/timeutil"
	"github.com/banshee-data/crossing/internal/traffic"
	"github.com/banshee-data/crossing/internal/units"
)

// ErrClosed is returned when ticking a simulation that has been closed.
var ErrClosed = errors.New("simulation closed")

var logf = monitoring.Prefixed("crossing")

// Option configures a Simulation.
type Option func(*options)

type options struct {
	clock timeutil.Clock
	src   rand.Source
}

// WithClock drives the signal timer and runner from clock.
func WithClock(clock timeutil.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithSeed makes the target speed jitter reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15) }
}

// WithSource supplies the random source directly.
func WithSource(src rand.Source) Option {
	return func(o *options) { o.src = src }
}

// Simulation is one lane and its signal. Tick, State and Snapshot may be
// called from different goroutines.
type Simulation struct {
	mu     sync.Mutex
	cfg    traffic.Config
	clock  timeutil.Clock
	model  *traffic.Model
	signal *signal.Controller
	tick   int64
	closed bool
}

// State is a read-only view of a simulation after some tick.
type State struct {
	Tick               int64             `json:"tick"`
	ElapsedMs          int64             `json:"elapsed_ms"`
	Phase              signal.Phase      `json:"phase"`
	RedRemainingMs     int64             `json:"red_remaining_ms"`
	Lane               []traffic.Vehicle `json:"lane"` // Lead first; includes the obstruction while red
	StoppedTimeMs      int64             `json:"stopped_time_ms"`
	CO2Kg              float64           `json:"co2_kg"`
	CO2BaselinePercent float64           `json:"co2_baseline_percent"`
	Summary            traffic.Summary   `json:"summary"`
}

// InUnits returns a copy of s with lane speeds converted from km/h to unit.
// Summary fields stay in km/h.
func (s State) InUnits(unit string) State {
	lane := make([]traffic.Vehicle, len(s.Lane))
	for i, v := range s.Lane {
		v.Speed = units.ConvertKmh(v.Speed, unit)
		lane[i] = v
	}
	s.Lane = lane
	return s
}

// Snapshot is the serializable state needed to resume a simulation.
type Snapshot struct {
	Tick           int64              `json:"tick"`
	Phase          signal.Phase       `json:"phase"`
	RedRemainingMs int64              `json:"red_remaining_ms"`
	Model          traffic.ModelState `json:"model"`
}

// New builds a simulation with an empty lane and an uninitialized signal.
func New(cfg traffic.Config, opts ...Option) (*Simulation, error) {
	o := options{clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	model, err := traffic.NewModel(cfg, o.src)
	if err != nil {
		return nil, err
	}
	return &Simulation{
		cfg:    cfg,
		clock:  o.clock,
		model:  model,
		signal: signal.NewController(cfg.RedPhaseDuration, o.clock),
	}, nil
}

// Config returns the configuration of the lane.
func (s *Simulation) Config() traffic.Config {
	return s.cfg
}

// Clock returns the clock driving the signal.
func (s *Simulation) Clock() timeutil.Clock {
	return s.clock
}

// TickCount returns the number of completed ticks.
func (s *Simulation) TickCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Tick advances the lane by one interval under the current phase, then
// reports the new lead position to the signal.
func (s *Simulation) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.model.Step(s.signal.CurrentPhase())
	s.tick++

	if lead, ok := s.model.Lead(); ok {
		if s.signal.Observe(lead.Position) {
			logf("tick %d: %s triggered the signal", s.tick, lead)
		}
	}
	return nil
}

// State returns the current view of the simulation. It remains readable
// after Close.
func (s *Simulation) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase := s.signal.CurrentPhase()
	lane := s.model.Lane(phase)
	stopped := s.model.StoppedTimeMs()
	co2 := traffic.CO2Kg(stopped)
	return State{
		Tick:               s.tick,
		ElapsedMs:          s.tick * s.cfg.TickInterval.Milliseconds(),
		Phase:              phase,
		RedRemainingMs:     s.signal.RedRemaining().Milliseconds(),
		Lane:               lane,
		StoppedTimeMs:      stopped,
		CO2Kg:              co2,
		CO2BaselinePercent: traffic.BaselinePercent(co2),
		Summary:            traffic.Summarize(lane),
	}
}

// Snapshot captures the simulation so Restore can continue it elsewhere.
func (s *Simulation) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, err := s.model.State()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Tick:           s.tick,
		Phase:          s.signal.CurrentPhase(),
		RedRemainingMs: s.signal.RedRemaining().Milliseconds(),
		Model:          ms,
	}, nil
}

// Restore replaces the lane, the signal phase and the tick counter. A red
// signal is re-armed for its remaining time on this simulation's clock.
func (s *Simulation) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if snap.Tick < 0 {
		return fmt.Errorf("invalid snapshot tick %d", snap.Tick)
	}
	if err := s.model.Restore(snap.Model); err != nil {
		return fmt.Errorf("failed to restore lane: %w", err)
	}
	remaining := time.Duration(snap.RedRemainingMs) * time.Millisecond
	if err := s.signal.Restore(snap.Phase, remaining); err != nil {
		return fmt.Errorf("failed to restore signal: %w", err)
	}
	s.tick = snap.Tick
	return nil
}

// Close stops the signal timer. Further ticks return ErrClosed.
func (s *Simulation) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.signal.Close()
}
