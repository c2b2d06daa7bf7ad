package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/crossing/internal/traffic"
	"github.com/banshee-data/crossing/internal/units"
)

// DefaultConfigPath is the path to the canonical simulation defaults file.
const DefaultConfigPath = "config/crossing.defaults.json"

// SimulationConfig is the JSON form of a simulation configuration. The
// same schema is accepted by POST /api/simulations and by -config files.
// Omitted fields take their defaults from the Get* accessors.
type SimulationConfig struct {
	// Following rule
	SafetyTimeSeconds *float64 `json:"safety_time_seconds,omitempty"`
	MinSpawnGapMeters *float64 `json:"min_spawn_gap_meters,omitempty"`
	SpeedLimitKmh     *float64 `json:"speed_limit_kmh,omitempty"`
	MaxVehicles       *int     `json:"max_vehicles,omitempty"`

	// Signal
	RedPhaseDurationMs *int64 `json:"red_phase_duration_ms,omitempty"`

	// Loop
	TickInterval       *string `json:"tick_interval,omitempty"`       // duration string like "5ms"
	CheckpointInterval *string `json:"checkpoint_interval,omitempty"` // duration string like "1s"
	Seed               *uint64 `json:"seed,omitempty"`                // random when absent

	// Presentation
	OutputUnits *string `json:"output_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptySimulationConfig returns a SimulationConfig with all fields set to nil.
func EmptySimulationConfig() *SimulationConfig {
	return &SimulationConfig{}
}

// DefaultSimulationConfig returns a SimulationConfig with every field set
// explicitly to its default. Seed stays nil.
func DefaultSimulationConfig() *SimulationConfig {
	d := traffic.DefaultConfig()
	return &SimulationConfig{
		SafetyTimeSeconds:  ptrFloat64(d.SafetyTimeSeconds),
		MinSpawnGapMeters:  ptrFloat64(d.MinSpawnGapMeters),
		SpeedLimitKmh:      ptrFloat64(d.SpeedLimitKmh),
		MaxVehicles:        ptrInt(d.MaxVehicles),
		RedPhaseDurationMs: ptrInt64(d.RedPhaseDuration.Milliseconds()),
		TickInterval:       ptrString(d.TickInterval.String()),
		CheckpointInterval: ptrString("1s"),
		OutputUnits:        ptrString(units.KMPH),
	}
}

// LoadSimulationConfig loads a SimulationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadSimulationConfig(path string) (*SimulationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseSimulationConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseSimulationConfig decodes and validates a JSON document.
func ParseSimulationConfig(data []byte) (*SimulationConfig, error) {
	cfg := EmptySimulationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SimulationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSimulationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set, then the combined model config.
func (c *SimulationConfig) Validate() error {
	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("%w: invalid tick_interval '%s': %v", traffic.ErrInvalidConfig, *c.TickInterval, err)
		}
	}
	if c.CheckpointInterval != nil && *c.CheckpointInterval != "" {
		d, err := time.ParseDuration(*c.CheckpointInterval)
		if err != nil {
			return fmt.Errorf("%w: invalid checkpoint_interval '%s': %v", traffic.ErrInvalidConfig, *c.CheckpointInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: checkpoint_interval must be positive, got %s", traffic.ErrInvalidConfig, d)
		}
	}
	if c.OutputUnits != nil && !units.IsValid(*c.OutputUnits) {
		return fmt.Errorf("%w: output_units must be one of %s, got %q",
			traffic.ErrInvalidConfig, units.GetValidUnitsString(), *c.OutputUnits)
	}
	return c.ToModelConfig().Validate()
}

// ToModelConfig converts to the immutable configuration of the model.
func (c *SimulationConfig) ToModelConfig() traffic.Config {
	return traffic.Config{
		SafetyTimeSeconds: c.GetSafetyTimeSeconds(),
		MinSpawnGapMeters: c.GetMinSpawnGapMeters(),
		SpeedLimitKmh:     c.GetSpeedLimitKmh(),
		MaxVehicles:       c.GetMaxVehicles(),
		RedPhaseDuration:  c.GetRedPhaseDuration(),
		TickInterval:      c.GetTickInterval(),
	}
}

// GetSafetyTimeSeconds returns the safety_time_seconds value or the default.
func (c *SimulationConfig) GetSafetyTimeSeconds() float64 {
	if c.SafetyTimeSeconds == nil {
		return traffic.DefaultConfig().SafetyTimeSeconds
	}
	return *c.SafetyTimeSeconds
}

// GetMinSpawnGapMeters returns the min_spawn_gap_meters value or the default.
func (c *SimulationConfig) GetMinSpawnGapMeters() float64 {
	if c.MinSpawnGapMeters == nil {
		return traffic.DefaultConfig().MinSpawnGapMeters
	}
	return *c.MinSpawnGapMeters
}

// GetSpeedLimitKmh returns the speed_limit_kmh value or the default.
func (c *SimulationConfig) GetSpeedLimitKmh() float64 {
	if c.SpeedLimitKmh == nil {
		return traffic.DefaultConfig().SpeedLimitKmh
	}
	return *c.SpeedLimitKmh
}

// GetMaxVehicles returns the max_vehicles value or the default.
func (c *SimulationConfig) GetMaxVehicles() int {
	if c.MaxVehicles == nil {
		return traffic.DefaultConfig().MaxVehicles
	}
	return *c.MaxVehicles
}

// GetRedPhaseDuration returns red_phase_duration_ms as a time.Duration.
func (c *SimulationConfig) GetRedPhaseDuration() time.Duration {
	if c.RedPhaseDurationMs == nil {
		return traffic.DefaultConfig().RedPhaseDuration
	}
	return time.Duration(*c.RedPhaseDurationMs) * time.Millisecond
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *SimulationConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return traffic.DefaultTickInterval
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return traffic.DefaultTickInterval // default on parse error
	}
	return d
}

// GetCheckpointInterval parses and returns the CheckpointInterval as a time.Duration.
func (c *SimulationConfig) GetCheckpointInterval() time.Duration {
	if c.CheckpointInterval == nil || *c.CheckpointInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.CheckpointInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetSeed returns the configured seed and whether one was set.
func (c *SimulationConfig) GetSeed() (uint64, bool) {
	if c.Seed == nil {
		return 0, false
	}
	return *c.Seed, true
}

// GetOutputUnits returns the output_units value or the default.
func (c *SimulationConfig) GetOutputUnits() string {
	if c.OutputUnits == nil || *c.OutputUnits == "" {
		return units.KMPH
	}
	return *c.OutputUnits
}
