package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/timeutil"
)

// runResult is printed by the run command.
type runResult struct {
	Seed   *uint64                  `json:"seed,omitempty"`
	Units  string                   `json:"units"`
	Config *config.SimulationConfig `json:"config"`
	crossing.State
}

func handleRun(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	ticks := fs.Int64("ticks", 12000, "Number of ticks to simulate")
	seed := fs.Uint64("seed", 0, "Seed for reproducible runs (random when unset)")
	configPath := fs.String("config", "", "Path to a JSON simulation config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ticks < 0 {
		return fmt.Errorf("ticks must not be negative, got %d", *ticks)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			cfg.Seed = seed
		}
	})

	clock := timeutil.NewMockClock(time.Unix(0, 0).UTC())
	opts := []crossing.Option{crossing.WithClock(clock)}
	if s, ok := cfg.GetSeed(); ok {
		opts = append(opts, crossing.WithSeed(s))
	}
	sim, err := crossing.New(cfg.ToModelConfig(), opts...)
	if err != nil {
		return err
	}
	defer sim.Close()

	if err := crossing.RunHeadless(sim, clock, *ticks); err != nil {
		return err
	}

	unit := cfg.GetOutputUnits()
	state := sim.State().InUnits(unit)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(runResult{Seed: cfg.Seed, Units: unit, Config: cfg, State: state})
}
