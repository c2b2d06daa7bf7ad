package traffic

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a Config cannot drive a simulation.
var ErrInvalidConfig = errors.New("invalid simulation config")

// DefaultTickInterval is the simulated time covered by one Step.
const DefaultTickInterval = 5 * time.Millisecond

// Config is the immutable configuration of one simulation run.
type Config struct {
	SafetyTimeSeconds float64       // Time headroom kept behind every vehicle ahead
	MinSpawnGapMeters float64       // Tail must be this far past the spawn point before a new car enters
	SpeedLimitKmh     float64       // Target cruising speed
	MaxVehicles       int           // Maximum concurrent cars on the lane
	RedPhaseDuration  time.Duration // Length of the single red phase
	TickInterval      time.Duration // Simulated time per Step; whole milliseconds
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		SafetyTimeSeconds: 1,
		MinSpawnGapMeters: 20,
		SpeedLimitKmh:     50,
		MaxVehicles:       60,
		RedPhaseDuration:  60 * time.Second,
		TickInterval:      DefaultTickInterval,
	}
}

// Validate reports the first field that would make the model misbehave.
func (c Config) Validate() error {
	switch {
	case !(c.SafetyTimeSeconds > 0):
		return fmt.Errorf("%w: safety time must be positive, got %v", ErrInvalidConfig, c.SafetyTimeSeconds)
	case !(c.MinSpawnGapMeters > 0):
		return fmt.Errorf("%w: minimum spawn gap must be positive, got %v", ErrInvalidConfig, c.MinSpawnGapMeters)
	case !(c.SpeedLimitKmh > 0):
		return fmt.Errorf("%w: speed limit must be positive, got %v", ErrInvalidConfig, c.SpeedLimitKmh)
	case c.MaxVehicles <= 0:
		return fmt.Errorf("%w: max vehicles must be positive, got %d", ErrInvalidConfig, c.MaxVehicles)
	case c.RedPhaseDuration < 0:
		return fmt.Errorf("%w: red phase duration must not be negative, got %v", ErrInvalidConfig, c.RedPhaseDuration)
	case c.TickInterval < time.Millisecond || c.TickInterval%time.Millisecond != 0:
		return fmt.Errorf("%w: tick interval must be a whole number of milliseconds, got %v", ErrInvalidConfig, c.TickInterval)
	}
	return nil
}

func (c Config) tickSeconds() float64 {
	return c.TickInterval.Seconds()
}

func (c Config) tickMillis() int64 {
	return c.TickInterval.Milliseconds()
}
