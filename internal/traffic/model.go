// Package traffic implements the single-lane car-following model that
// approaches the signalized intersection.
//
// Each Step spawns and despawns cars, inserts the red-signal obstruction
// when needed, and folds the speed rule over the lane from the lead vehicle
// to the tail. Every vehicle sees the speeds already updated ahead of it in
// the same tick, so the update order is part of the model.
package traffic

import (
	"encoding"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/crossing/internal/signal"
	"github.com/banshee-data/crossing/internal/units"
)

// Tuning of the following rule. Not user-configurable.
const (
	FollowingBufferMeters    = 10.0        // Gap kept in front of the projected position
	AccelerationKmhPerSecond = 160.0 / 3.6 // Speed gained per second while accelerating
	MinBrakingKmhPerSecond   = 2.0 / 3.6   // Floor of the braking term for slow vehicles
	BrakingFactor            = 10.0 / 3.6  // Braking per second per km/h of current speed
	LeadSlackKmh             = 5.0         // Lead accelerates only when this far below the limit
	SpeedJitterKmh           = 5.0         // Half-width of the uniform target speed noise
)

// Model owns the ordered car sequence of one lane. It is not safe for
// concurrent use; a single tick loop drives it.
type Model struct {
	cfg           Config
	src           rand.Source
	rng           *rand.Rand
	vehicles      []Vehicle
	nextID        int64
	stoppedTimeMs int64
}

// ModelState is the complete serializable state of a Model.
type ModelState struct {
	Vehicles []Vehicle `json:"vehicles"`
	NextID   int64     `json:"next_id"`
	RNG      []byte    `json:"rng,omitempty"` // Binary state of the random source when it supports it
}

// NewModel validates cfg and returns an empty lane. src drives the target
// speed jitter; nil seeds a PCG source from the global generator.
func NewModel(cfg Config, src rand.Source) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Model{
		cfg:    cfg,
		src:    src,
		rng:    rand.New(src),
		nextID: 1,
	}, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config {
	return m.cfg
}

// Vehicles returns a copy of the cars on the lane, lead first.
func (m *Model) Vehicles() []Vehicle {
	out := make([]Vehicle, len(m.vehicles))
	copy(out, m.vehicles)
	return out
}

// Lane returns the sequence the following rule sees under phase: the cars,
// preceded by the signal obstruction while red.
func (m *Model) Lane(phase signal.Phase) []Vehicle {
	return buildLane(m.vehicles, phase)
}

// Lead returns the car closest to the intersection.
func (m *Model) Lead() (Vehicle, bool) {
	if len(m.vehicles) == 0 {
		return Vehicle{}, false
	}
	return m.vehicles[0], true
}

// StoppedTimeMs returns the stopped time summed over the cars currently on
// the lane.
func (m *Model) StoppedTimeMs() int64 {
	return m.stoppedTimeMs
}

// CO2Kg returns the idling emissions proxy for the current stopped time.
func (m *Model) CO2Kg() float64 {
	return CO2Kg(m.stoppedTimeMs)
}

// Step advances the lane by one tick under the given signal phase.
func (m *Model) Step(phase signal.Phase) {
	lane := buildLane(m.vehicles, phase)

	if len(lane) == 0 {
		m.vehicles = []Vehicle{m.spawn()}
		m.stoppedTimeMs = 0
		return
	}

	lane = despawn(lane)

	if m.shouldSpawn(lane) {
		lane = append(lane, m.spawn())
	}

	for i := range lane {
		lane[i].Speed = m.nextSpeed(lane, i)
	}

	tickMs := m.cfg.tickMillis()
	tickSeconds := m.cfg.tickSeconds()
	cars := lane[:0]
	var stopped int64
	for _, v := range lane {
		if !v.IsCar() {
			continue
		}
		if v.Speed == 0 {
			v.StoppedTimeMs += tickMs
		}
		v.Position += units.KmhToMps(v.Speed) * tickSeconds
		stopped += v.StoppedTimeMs
		cars = append(cars, v)
	}

	m.vehicles = cars
	m.stoppedTimeMs = stopped
}

// State captures everything needed to continue the run elsewhere.
func (m *Model) State() (ModelState, error) {
	state := ModelState{
		Vehicles: m.Vehicles(),
		NextID:   m.nextID,
	}
	if marshaler, ok := m.src.(encoding.BinaryMarshaler); ok {
		b, err := marshaler.MarshalBinary()
		if err != nil {
			return ModelState{}, fmt.Errorf("failed to capture random source: %w", err)
		}
		state.RNG = b
	}
	return state, nil
}

// Restore replaces the lane with a previously captured state.
func (m *Model) Restore(state ModelState) error {
	for i, v := range state.Vehicles {
		if v.Kind != KindCar {
			return fmt.Errorf("vehicle %d: only cars can be restored, got kind %q", i, v.Kind)
		}
		if math.IsNaN(v.Speed) || math.IsInf(v.Speed, 0) {
			return fmt.Errorf("vehicle %d: invalid speed %v", i, v.Speed)
		}
		if math.IsNaN(v.Position) || math.IsInf(v.Position, 0) {
			return fmt.Errorf("vehicle %d: invalid position %v", i, v.Position)
		}
		if v.StoppedTimeMs < 0 {
			return fmt.Errorf("vehicle %d: negative stopped time %d", i, v.StoppedTimeMs)
		}
	}
	if len(state.RNG) > 0 {
		unmarshaler, ok := m.src.(encoding.BinaryUnmarshaler)
		if !ok {
			return fmt.Errorf("random source %T cannot restore state", m.src)
		}
		if err := unmarshaler.UnmarshalBinary(state.RNG); err != nil {
			return fmt.Errorf("failed to restore random source: %w", err)
		}
	}

	vehicles := make([]Vehicle, len(state.Vehicles))
	copy(vehicles, state.Vehicles)
	var stopped int64
	for _, v := range vehicles {
		stopped += v.StoppedTimeMs
	}

	m.vehicles = vehicles
	m.stoppedTimeMs = stopped
	m.nextID = state.NextID
	if m.nextID < 1 {
		m.nextID = 1
	}
	return nil
}

func buildLane(cars []Vehicle, phase signal.Phase) []Vehicle {
	lane := make([]Vehicle, 0, len(cars)+2)
	if phase == signal.PhaseRed {
		lane = append(lane, SignalObstruction())
	}
	return append(lane, cars...)
}

func despawn(lane []Vehicle) []Vehicle {
	kept := lane[:0]
	for _, v := range lane {
		if v.Position < DespawnPosition {
			kept = append(kept, v)
		}
	}
	return kept
}

func (m *Model) shouldSpawn(lane []Vehicle) bool {
	if len(lane) == 0 {
		return true
	}
	cars := 0
	for _, v := range lane {
		if v.IsCar() {
			cars++
		}
	}
	if cars >= m.cfg.MaxVehicles {
		return false
	}
	return lane[len(lane)-1].Position > SpawnPosition+m.cfg.MinSpawnGapMeters
}

func (m *Model) spawn() Vehicle {
	v := Vehicle{
		ID:       m.nextID,
		Kind:     KindCar,
		Position: SpawnPosition,
		Speed:    m.targetSpeed(),
	}
	m.nextID++
	return v
}

// targetSpeed draws floor(limit ± SpeedJitterKmh). It is not clamped at zero.
func (m *Model) targetSpeed() float64 {
	return math.Floor(m.cfg.SpeedLimitKmh + m.rng.Float64()*2*SpeedJitterKmh - SpeedJitterKmh)
}

// nextSpeed applies the following rule to lane[i]. lane[:i] already carries
// this tick's speeds.
func (m *Model) nextSpeed(lane []Vehicle, i int) float64 {
	v := lane[i]
	switch {
	case !v.IsCar():
		return 0
	case i == 0 && v.Speed < m.cfg.SpeedLimitKmh-LeadSlackKmh:
		return m.accelerate(v.Speed)
	case m.mustBrake(v, lane[:i]):
		return math.Max(0, v.Speed-math.Max(MinBrakingKmhPerSecond, BrakingFactor*v.Speed)*m.cfg.tickSeconds())
	case i > 0 && v.Speed < lane[i-1].Speed:
		return m.accelerate(v.Speed)
	default:
		return v.Speed
	}
}

func (m *Model) accelerate(speed float64) float64 {
	return math.Min(m.targetSpeed(), speed+AccelerationKmhPerSecond*m.cfg.tickSeconds())
}

// mustBrake reports whether v, projected over one tick with the safety
// headroom, would come closer than FollowingBufferMeters to any vehicle ahead.
func (m *Model) mustBrake(v Vehicle, ahead []Vehicle) bool {
	projected := v.Position + m.cfg.SafetyTimeSeconds*units.KmhToMps(v.Speed)*m.cfg.tickSeconds()
	for _, other := range ahead {
		if projected > other.Position-FollowingBufferMeters {
			return true
		}
	}
	return false
}
