// Package signal implements the one-shot traffic signal guarding the
// intersection at position 0 of the approach lane.
//
// The controller starts uninitialized. The first time the lead vehicle is
// observed inside the trigger window it turns red and arms a single deferred
// call that turns it green after the configured red duration. It never
// returns to uninitialized and never turns red a second time.
//
// A lead vehicle fast enough to cross the whole window between two
// observations is never seen inside it, so the signal stays uninitialized
// for the rest of the run.
package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/crossing/internal/monitoring"
	"github.com/banshee-data/crossing/internal/timeutil"
)

// Phase is the observable state of the signal.
type Phase string

const (
	PhaseUninitialized Phase = "init"  // No vehicle has reached the trigger window yet
	PhaseRed           Phase = "red"   // Intersection blocked
	PhaseGreen         Phase = "green" // Intersection open for the rest of the run
)

// Trigger window bounds in metres; both are exclusive.
const (
	TriggerWindowStart = -30.0
	TriggerWindowEnd   = -10.0
)

var logf = monitoring.Prefixed("signal")

// InTriggerWindow reports whether a lead position lies strictly inside the
// trigger window.
func InTriggerWindow(position float64) bool {
	return position > TriggerWindowStart && position < TriggerWindowEnd
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseUninitialized, PhaseRed, PhaseGreen:
		return true
	}
	return false
}

// Controller owns the red/green state machine for one intersection.
// It is safe for use by one tick loop plus the deferred green call.
type Controller struct {
	mu          sync.Mutex
	clock       timeutil.Clock
	redDuration time.Duration
	phase       Phase
	redSince    time.Time
	timer       timeutil.Timer
	generation  uint64
	closed      bool
}

// NewController returns an uninitialized controller. A nil clock uses the
// wall clock.
func NewController(redDuration time.Duration, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		clock:       clock,
		redDuration: redDuration,
		phase:       PhaseUninitialized,
	}
}

// Observe feeds the lead vehicle position to the controller. It returns true
// only on the call that turned the signal red.
func (c *Controller) Observe(leadPosition float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.phase != PhaseUninitialized || !InTriggerWindow(leadPosition) {
		return false
	}

	c.armRedLocked(c.redDuration)
	logf("lead vehicle at %.2fm, red for %v", leadPosition, c.redDuration)
	return true
}

// CurrentPhase returns the current phase.
func (c *Controller) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// RedRemaining returns how long the current red phase has left, or 0 when
// the signal is not red.
func (c *Controller) RedRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseRed {
		return 0
	}
	remaining := c.redDuration - c.clock.Since(c.redSince)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Restore replaces the controller state with a previously captured phase.
// Restoring red arms the green call for the remaining red time.
func (c *Controller) Restore(phase Phase, redRemaining time.Duration) error {
	if !phase.Valid() {
		return fmt.Errorf("unknown signal phase %q", phase)
	}
	if redRemaining < 0 {
		return fmt.Errorf("negative red remaining time %v", redRemaining)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("signal controller closed")
	}
	c.stopTimerLocked()
	c.phase = phase
	if phase == PhaseRed {
		// Shift redSince so RedRemaining stays consistent with the armed timer.
		c.armRedLocked(redRemaining)
		c.redSince = c.clock.Now().Add(redRemaining - c.redDuration)
	}
	return nil
}

// Close cancels any pending green call. The controller keeps answering
// CurrentPhase but ignores further observations. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
}

func (c *Controller) armRedLocked(d time.Duration) {
	c.phase = PhaseRed
	c.redSince = c.clock.Now()
	c.generation++
	gen := c.generation
	c.timer = c.clock.AfterFunc(d, func() { c.turnGreen(gen) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) turnGreen(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stopped wall-clock timer may already have been in flight.
	if c.closed || c.phase != PhaseRed || gen != c.generation {
		return
	}
	c.phase = PhaseGreen
	c.timer = nil
	logf("red phase over, green")
}
