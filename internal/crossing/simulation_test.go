package crossing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing/internal/signal"
	"github.com/banshee-data/crossing/internal/timeutil"
	"github.com/banshee-data/crossing/internal/traffic"
)

func newHeadless(t *testing.T, cfg traffic.Config, seed uint64, start time.Time) (*Simulation, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(start)
	sim, err := New(cfg, WithClock(clock), WithSeed(seed))
	require.NoError(t, err)
	t.Cleanup(sim.Close)
	return sim, clock
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := traffic.DefaultConfig()
	cfg.MaxVehicles = -1
	_, err := New(cfg)
	assert.ErrorIs(t, err, traffic.ErrInvalidConfig)
}

func TestSimulation_FirstTickSpawns(t *testing.T) {
	t.Parallel()
	sim, clock := newHeadless(t, traffic.DefaultConfig(), 1, time.Unix(0, 0))

	require.NoError(t, RunHeadless(sim, clock, 1))

	state := sim.State()
	assert.Equal(t, int64(1), state.Tick)
	assert.Equal(t, int64(5), state.ElapsedMs)
	assert.Equal(t, signal.PhaseUninitialized, state.Phase)
	require.Len(t, state.Lane, 1)
	assert.Equal(t, traffic.SpawnPosition, state.Lane[0].Position)
	assert.Equal(t, 1, state.Summary.Cars)
}

func TestSimulation_SignalCycle(t *testing.T) {
	t.Parallel()

	cfg := traffic.DefaultConfig()
	cfg.RedPhaseDuration = 10 * time.Second
	sim, clock := newHeadless(t, cfg, 2, time.Unix(0, 0))

	var phases []signal.Phase
	redTicks := 0
	var maxStopped int64
	for i := 0; i < 12000; i++ {
		require.NoError(t, RunHeadless(sim, clock, 1))
		state := sim.State()
		if len(phases) == 0 || phases[len(phases)-1] != state.Phase {
			phases = append(phases, state.Phase)
		}
		if state.Phase == signal.PhaseRed {
			redTicks++
			require.NotEmpty(t, state.Lane)
			assert.Equal(t, traffic.KindSignal, state.Lane[0].Kind)
			assert.Greater(t, state.RedRemainingMs, int64(0))
		}
		if state.StoppedTimeMs > maxStopped {
			maxStopped = state.StoppedTimeMs
		}
	}

	assert.Equal(t, []signal.Phase{signal.PhaseUninitialized, signal.PhaseRed, signal.PhaseGreen}, phases)
	assert.InDelta(t, 2000, redTicks, 1)
	assert.Greater(t, maxStopped, int64(0), "the queue behind the red signal should have stopped")
}

func TestSimulation_CloseStopsTicking(t *testing.T) {
	t.Parallel()

	cfg := traffic.DefaultConfig()
	cfg.RedPhaseDuration = time.Minute
	sim, clock := newHeadless(t, cfg, 3, time.Unix(0, 0))
	require.NoError(t, sim.Restore(Snapshot{Phase: signal.PhaseRed, RedRemainingMs: 30000}))
	require.Equal(t, 1, clock.Pending())

	sim.Close()
	sim.Close()

	assert.ErrorIs(t, sim.Tick(), ErrClosed)
	assert.ErrorIs(t, sim.Restore(Snapshot{}), ErrClosed)
	assert.Zero(t, clock.Pending())
	assert.Equal(t, signal.PhaseRed, sim.State().Phase)
}

func TestSimulation_RestoreRejectsBadSnapshot(t *testing.T) {
	t.Parallel()
	sim, _ := newHeadless(t, traffic.DefaultConfig(), 4, time.Unix(0, 0))

	assert.Error(t, sim.Restore(Snapshot{Phase: signal.Phase("amber")}))
	assert.Error(t, sim.Restore(Snapshot{Tick: -1, Phase: signal.PhaseGreen}))
	assert.Error(t, sim.Restore(Snapshot{
		Phase: signal.PhaseGreen,
		Model: traffic.ModelState{Vehicles: []traffic.Vehicle{traffic.SignalObstruction()}},
	}))
}

func TestSimulation_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	const split, total = 7000, 30000
	cfg := traffic.DefaultConfig()
	cfg.RedPhaseDuration = 20 * time.Second

	uninterrupted, uClock := newHeadless(t, cfg, 5, time.Unix(0, 0))
	require.NoError(t, RunHeadless(uninterrupted, uClock, total))

	first, fClock := newHeadless(t, cfg, 5, time.Unix(0, 0))
	require.NoError(t, RunHeadless(first, fClock, split))
	snap, err := first.Snapshot()
	require.NoError(t, err)
	require.Equal(t, signal.PhaseRed, snap.Phase, "split should land inside the red phase")

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Different seed and a different wall time: everything must come from the snapshot.
	resumed, rClock := newHeadless(t, cfg, 99, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, resumed.Restore(decoded))
	assert.Equal(t, int64(split), resumed.TickCount())
	require.NoError(t, RunHeadless(resumed, rClock, total-split))

	if diff := cmp.Diff(uninterrupted.State(), resumed.State()); diff != "" {
		t.Errorf("resumed simulation differs (-uninterrupted +resumed):\n%s", diff)
	}
}

func TestRunHeadless_RequiresMatchingClock(t *testing.T) {
	t.Parallel()
	sim, _ := newHeadless(t, traffic.DefaultConfig(), 6, time.Unix(0, 0))

	err := RunHeadless(sim, timeutil.NewMockClock(time.Unix(0, 0)), 1)
	assert.Error(t, err)
	assert.Zero(t, sim.TickCount())
}

func TestState_InUnits(t *testing.T) {
	t.Parallel()

	s := State{
		Tick: 7,
		Lane: []traffic.Vehicle{
			{ID: 1, Kind: traffic.KindCar, Position: 120, Speed: 36},
			{ID: 2, Kind: traffic.KindCar, Position: 40, Speed: 0},
		},
		Summary: traffic.Summary{Cars: 2, MeanSpeedKmh: 18},
	}

	got := s.InUnits("mps")
	assert.InDelta(t, 10, got.Lane[0].Speed, 1e-9)
	assert.Equal(t, 0.0, got.Lane[1].Speed)
	assert.Equal(t, 120.0, got.Lane[0].Position)
	assert.Equal(t, 18.0, got.Summary.MeanSpeedKmh, "summary stays in km/h")
	assert.Equal(t, int64(7), got.Tick)

	assert.Equal(t, 36.0, s.Lane[0].Speed, "the receiver's lane is not modified")
	assert.InDelta(t, 36, s.InUnits("kmph").Lane[0].Speed, 1e-9)
}
