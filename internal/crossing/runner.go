package crossing

import (
	"context"
	"fmt"

	"github.com/banshee-data/crossing/internal/timeutil"
)

// Runner drives a Simulation from its clock at the configured tick interval.
type Runner struct {
	Sim *Simulation

	// MaxTicks stops the run once the simulation has completed this many
	// ticks. Zero runs until the context is cancelled.
	MaxTicks int64

	// OnTick, if set, is called after every tick from the runner goroutine.
	OnTick func(tick int64)
}

// Run ticks the simulation until ctx is done, MaxTicks is reached or a tick
// fails. The ticker is stopped and the simulation closed on every return.
func (r *Runner) Run(ctx context.Context) error {
	sim := r.Sim
	defer sim.Close()

	ticker := sim.Clock().NewTicker(sim.Config().TickInterval)
	defer ticker.Stop()

	if r.done() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := sim.Tick(); err != nil {
				return err
			}
			if r.OnTick != nil {
				r.OnTick(sim.TickCount())
			}
			if r.done() {
				return nil
			}
		}
	}
}

func (r *Runner) done() bool {
	return r.MaxTicks > 0 && r.Sim.TickCount() >= r.MaxTicks
}

// RunHeadless runs ticks on simulated time as fast as possible. The
// simulation must have been built WithClock(clock); the clock is advanced by
// one tick interval after every tick so signal timers fire deterministically.
func RunHeadless(sim *Simulation, clock *timeutil.MockClock, ticks int64) error {
	if sim.Clock() != timeutil.Clock(clock) {
		return fmt.Errorf("simulation is not driven by the supplied clock")
	}
	interval := sim.Config().TickInterval
	for i := int64(0); i < ticks; i++ {
		if err := sim.Tick(); err != nil {
			return err
		}
		clock.Advance(interval)
	}
	return nil
}
