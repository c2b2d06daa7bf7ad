// Package db persists simulations, their latest checkpoint and the summary
// recorded when a run ends.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/monitoring"
)

// ErrNotFound is returned when a simulation or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

var logf = monitoring.Prefixed("db")

// Essential PRAGMAs, applied to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

type DB struct {
	*sql.DB
	path string
}

var _ crossing.Checkpointer = (*DB)(nil)

// OpenDB opens the database without touching the schema. Migrations are
// left to the caller.
func OpenDB(path string) (*DB, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// SimulationRecord is a stored simulation and its configuration.
type SimulationRecord struct {
	ID        string                   `json:"id"`
	Config    *config.SimulationConfig `json:"config"`
	CreatedAt time.Time                `json:"created_at"`
}

// SaveSimulation registers a simulation. Saving an existing id replaces its
// configuration.
func (db *DB) SaveSimulation(ctx context.Context, id string, cfg *config.SimulationConfig, createdAt time.Time) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO simulations (id, config_json, created_unix_nanos) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET config_json = excluded.config_json`,
		id, string(cfgJSON), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save simulation %s: %w", id, err)
	}
	return nil
}

// Simulation returns one stored simulation.
func (db *DB) Simulation(ctx context.Context, id string) (SimulationRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, config_json, created_unix_nanos FROM simulations WHERE id = ?`, id)
	rec, err := scanSimulation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SimulationRecord{}, fmt.Errorf("simulation %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ResumableSimulations returns simulations that have a checkpoint but no
// final summary, oldest first.
func (db *DB) ResumableSimulations(ctx context.Context) ([]SimulationRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.config_json, s.created_unix_nanos
		FROM simulations s
		JOIN checkpoints c ON c.simulation_id = s.id
		LEFT JOIN run_summaries r ON r.simulation_id = s.id
		WHERE r.simulation_id IS NULL
		ORDER BY s.created_unix_nanos, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SimulationRecord
	for rows.Next() {
		rec, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSimulation(s scanner) (SimulationRecord, error) {
	var (
		rec     SimulationRecord
		cfgJSON string
		created int64
	)
	if err := s.Scan(&rec.ID, &cfgJSON, &created); err != nil {
		return SimulationRecord{}, err
	}
	rec.Config = config.EmptySimulationConfig()
	if err := json.Unmarshal([]byte(cfgJSON), rec.Config); err != nil {
		return SimulationRecord{}, fmt.Errorf("simulation %s: failed to decode config: %w", rec.ID, err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

// SaveCheckpoint stores snap as the latest state of simulation id,
// replacing any earlier checkpoint.
func (db *DB) SaveCheckpoint(ctx context.Context, id string, snap crossing.Snapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (simulation_id, tick, phase, snapshot_json, updated_unix_nanos)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(simulation_id) DO UPDATE SET
			tick = excluded.tick,
			phase = excluded.phase,
			snapshot_json = excluded.snapshot_json,
			updated_unix_nanos = excluded.updated_unix_nanos`,
		id, snap.Tick, string(snap.Phase), string(snapJSON), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", id, err)
	}
	return nil
}

// LoadCheckpoint returns the latest checkpoint of simulation id.
func (db *DB) LoadCheckpoint(ctx context.Context, id string) (crossing.Snapshot, error) {
	var snapJSON string
	err := db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM checkpoints WHERE simulation_id = ?`, id).Scan(&snapJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return crossing.Snapshot{}, fmt.Errorf("checkpoint for %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return crossing.Snapshot{}, err
	}

	var snap crossing.Snapshot
	if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
		return crossing.Snapshot{}, fmt.Errorf("failed to decode checkpoint for %s: %w", id, err)
	}
	return snap, nil
}

// RunSummary is the final record of a finished simulation.
type RunSummary struct {
	SimulationID   string    `json:"simulation_id"`
	Ticks          int64     `json:"ticks"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	Cars           int       `json:"cars"`
	StoppedCars    int       `json:"stopped_cars"`
	MeanSpeedKmh   float64   `json:"mean_speed_kmh"`
	StdDevSpeedKmh float64   `json:"stddev_speed_kmh"`
	StoppedTimeMs  int64     `json:"stopped_time_ms"`
	CO2Kg          float64   `json:"co2_kg"`
	Inversions     int       `json:"inversions"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// RecordSummary stores the final state of simulation id.
func (db *DB) RecordSummary(ctx context.Context, id string, state crossing.State) error {
	s := state.Summary
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_summaries (
			simulation_id, ticks, elapsed_ms, cars, stopped_cars, mean_speed_kmh,
			stddev_speed_kmh, stopped_time_ms, co2_kg, inversions, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, state.Tick, state.ElapsedMs, s.Cars, s.StoppedCars, s.MeanSpeedKmh,
		s.StdDevSpeedKmh, state.StoppedTimeMs, state.CO2Kg, s.Inversions, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record summary for %s: %w", id, err)
	}
	return nil
}

// Summaries returns the most recent run summaries, newest first.
func (db *DB) Summaries(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT simulation_id, ticks, elapsed_ms, cars, stopped_cars, mean_speed_kmh,
			stddev_speed_kmh, stopped_time_ms, co2_kg, inversions, recorded_unix_nanos
		FROM run_summaries ORDER BY recorded_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []RunSummary{}
	for rows.Next() {
		var (
			s        RunSummary
			recorded int64
		)
		if err := rows.Scan(&s.SimulationID, &s.Ticks, &s.ElapsedMs, &s.Cars, &s.StoppedCars,
			&s.MeanSpeedKmh, &s.StdDevSpeedKmh, &s.StoppedTimeMs, &s.CO2Kg, &s.Inversions, &recorded); err != nil {
			return nil, err
		}
		s.RecordedAt = time.Unix(0, recorded).UTC()
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// DeleteSimulation removes a simulation with its checkpoint and summary.
func (db *DB) DeleteSimulation(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM run_summaries WHERE simulation_id = ?`,
		`DELETE FROM checkpoints WHERE simulation_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete simulation %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM simulations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete simulation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("simulation %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logf("deleted simulation %s", id)
	return nil
}
