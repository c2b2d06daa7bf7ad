package crossing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing/internal/signal"
	"github.com/banshee-data/crossing/internal/traffic"
)

func TestRunner_MaxTicks(t *testing.T) {
	t.Parallel()
	sim, clock := newHeadless(t, traffic.DefaultConfig(), 1, time.Unix(0, 0))

	var mu sync.Mutex
	var seen []int64
	r := &Runner{
		Sim:      sim,
		MaxTicks: 3,
		OnTick: func(tick int64) {
			mu.Lock()
			seen = append(seen, tick)
			mu.Unlock()
		},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()

	for i := int64(1); i <= 3; i++ {
		want := i
		// The runner may not have subscribed to the ticker yet; keep advancing
		// until the tick lands.
		require.Eventually(t, func() bool {
			if sim.TickCount() >= want {
				return true
			}
			clock.Advance(5 * time.Millisecond)
			return sim.TickCount() >= want
		}, time.Second, time.Millisecond)
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop at MaxTicks")
	}

	assert.Equal(t, int64(3), sim.TickCount())
	mu.Lock()
	assert.Equal(t, []int64{1, 2, 3}, seen)
	mu.Unlock()
	assert.ErrorIs(t, sim.Tick(), ErrClosed, "runner closes the simulation on exit")
}

func TestRunner_CancelReleasesSignalTimer(t *testing.T) {
	t.Parallel()
	sim, clock := newHeadless(t, traffic.DefaultConfig(), 2, time.Unix(0, 0))
	require.NoError(t, sim.Restore(Snapshot{Phase: signal.PhaseRed, RedRemainingMs: 30000}))
	require.Equal(t, 1, clock.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- (&Runner{Sim: sim}).Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner ignored cancellation")
	}

	assert.Zero(t, clock.Pending())
	assert.ErrorIs(t, sim.Tick(), ErrClosed)
}

func TestRunner_StopsOnClosedSimulation(t *testing.T) {
	t.Parallel()
	sim, clock := newHeadless(t, traffic.DefaultConfig(), 3, time.Unix(0, 0))
	sim.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- (&Runner{Sim: sim}).Run(context.Background()) }()

	require.Eventually(t, func() bool {
		clock.Advance(5 * time.Millisecond)
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestRunner_AlreadyAtMaxTicks(t *testing.T) {
	t.Parallel()
	sim, clock := newHeadless(t, traffic.DefaultConfig(), 4, time.Unix(0, 0))
	require.NoError(t, RunHeadless(sim, clock, 2))

	err := (&Runner{Sim: sim, MaxTicks: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sim.TickCount())
}

func TestRunner_RealClock(t *testing.T) {
	t.Parallel()

	cfg := traffic.DefaultConfig()
	cfg.TickInterval = time.Millisecond
	sim, err := New(cfg, WithSeed(5))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, (&Runner{Sim: sim, MaxTicks: 10}).Run(ctx))
	assert.Equal(t, int64(10), sim.TickCount())
}
