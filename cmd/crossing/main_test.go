package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/db"
	"github.com/banshee-data/crossing/internal/signal"
	"github.com/banshee-data/crossing/internal/stream"
)

func decodeRun(t *testing.T, out *bytes.Buffer) runResult {
	t.Helper()
	var res runResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res
}

func TestHandleRunIsReproducible(t *testing.T) {
	args := []string{"-ticks", "4000", "-seed", "42"}

	var first, second bytes.Buffer
	require.NoError(t, handleRun(args, &first))
	require.NoError(t, handleRun(args, &second))
	assert.Equal(t, first.String(), second.String())

	res := decodeRun(t, &first)
	require.NotNil(t, res.Seed)
	assert.Equal(t, uint64(42), *res.Seed)
	assert.Equal(t, int64(4000), res.Tick)
	assert.Equal(t, int64(20000), res.ElapsedMs)
	assert.Equal(t, "kmph", res.Units)
	assert.NotEmpty(t, res.Lane)
	assert.Zero(t, res.Summary.Inversions)
}

func TestHandleRunWithConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"speed_limit_kmh": 30,
		"red_phase_duration_ms": 10000,
		"output_units": "mps",
		"seed": 9
	}`), 0o644))

	var out bytes.Buffer
	require.NoError(t, handleRun([]string{"-ticks", "24000", "-config", path}, &out))

	res := decodeRun(t, &out)
	assert.Equal(t, "mps", res.Units)
	require.NotNil(t, res.Seed)
	assert.Equal(t, uint64(9), *res.Seed)
	assert.Equal(t, 30.0, res.Config.GetSpeedLimitKmh())
	// Lane speeds are converted; spawn speeds never exceed floor(limit+5).
	for _, v := range res.Lane {
		assert.LessOrEqual(t, v.Speed, 35/3.6+1e-9, v.String())
	}
	// After two minutes of simulated time the 10s red has long ended.
	assert.NotEqual(t, signal.PhaseRed, res.Phase)
}

func TestHandleRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative ticks", []string{"-ticks", "-1"}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "missing.json")}},
		{"unknown flag", []string{"-bogus"}},
		{"bad seed", []string{"-seed", "minus-one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, handleRun(tt.args, &bytes.Buffer{}))
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSimulationConfig(), cfg)
}

func listSimulations(t *testing.T, addr string) []crossing.Info {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/api/simulations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []crossing.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	return infos
}

func ids(infos []crossing.Info) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	sort.Strings(out)
	return out
}

// startServe runs serve on a loopback port and returns its address and a
// function that stops it and returns serve's error.
func startServe(t *testing.T, opts serveOptions) (string, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, opts) }()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("serve did not shut down")
			return nil
		}
	}
	return ln.Addr().String(), stop
}

func TestServeCheckpointsAndResumes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serve.db")
	cfg := config.DefaultSimulationConfig()
	every := "10ms"
	cfg.CheckpointInterval = &every

	addr, stop := startServe(t, serveOptions{dbPath: dbPath, config: cfg, simulations: 2})
	var started []crossing.Info
	require.Eventually(t, func() bool {
		started = listSimulations(t, addr)
		return len(started) == 2 && started[0].Tick > 0 && started[1].Tick > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	resumable, err := database.ResumableSimulations(context.Background())
	require.NoError(t, err)
	require.NoError(t, database.Close())
	assert.Len(t, resumable, 2, "shutdown checkpoints without finishing the runs")

	// A restart picks the same simulations up instead of starting new ones.
	addr, stop = startServe(t, serveOptions{dbPath: dbPath, config: cfg, simulations: 2})
	resumed := listSimulations(t, addr)
	assert.Equal(t, ids(started), ids(resumed))
	for _, info := range resumed {
		assert.GreaterOrEqual(t, info.Tick, int64(1))
	}
	require.NoError(t, stop())
}

func TestServeNoSimulations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	addr, stop := startServe(t, serveOptions{dbPath: dbPath, config: config.DefaultSimulationConfig()})
	assert.Empty(t, listSimulations(t, addr))

	resp, err := http.Get("http://" + addr + "/api/version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, stop())
}

func TestServeBadDatabasePath(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "missing-dir", "x.db")
	err = serve(context.Background(), ln, serveOptions{dbPath: dbPath, config: config.DefaultSimulationConfig()})
	assert.Error(t, err)
}

func TestServeStreamsStateOverGRPC(t *testing.T) {
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := config.DefaultSimulationConfig()
	tick := "1ms"
	cfg.TickInterval = &tick

	addr, stop := startServe(t, serveOptions{
		dbPath:         filepath.Join(t.TempDir(), "grpc.db"),
		config:         cfg,
		simulations:    1,
		grpcListener:   grpcLn,
		streamInterval: 5 * time.Millisecond,
	})
	infos := listSimulations(t, addr)
	require.Len(t, infos, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	err = handleWatch(ctx, []string{"-addr", grpcLn.Addr().String(), "-id", infos[0].ID, "-units", "mph", "-frames", "3"}, &out)
	require.NoError(t, err)

	dec := json.NewDecoder(&out)
	var frames []stream.Frame
	for dec.More() {
		var f stream.Frame
		require.NoError(t, dec.Decode(&f))
		frames = append(frames, f)
	}
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, infos[0].ID, f.ID)
		assert.Equal(t, "mph", f.Units)
		if i > 0 {
			assert.Greater(t, f.Tick, frames[i-1].Tick)
		}
	}

	// Shutdown stops the stream server along with HTTP.
	require.NoError(t, stop())
}

func TestWatchErrors(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	assert.Error(t, handleWatch(ctx, []string{"-addr", "127.0.0.1:1"}, &out), "missing id")
	assert.Error(t, handleWatch(ctx, []string{"-id", "x", "-frames", "-2"}, &out))
}
