package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/crossing/internal/api"
	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/db"
	"github.com/banshee-data/crossing/internal/stream"
)

type serveOptions struct {
	dbPath      string
	config      *config.SimulationConfig
	simulations int
	// grpcListener serves the state stream when set.
	grpcListener   net.Listener
	streamInterval time.Duration
}

func handleServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", ":8080", "Listen address")
	dbPath := fs.String("db", "crossing.db", "Path to the sqlite database")
	configPath := fs.String("config", "", "Path to a JSON simulation config used for simulations started at boot")
	simulations := fs.Int("simulations", 1, "Simulations to start when none are resumed")
	grpcListen := fs.String("grpc-listen", "", "Listen address for the gRPC state stream (disabled when empty)")
	streamInterval := fs.Duration("stream-interval", stream.DefaultInterval, "Frame period of the gRPC state stream")
	fs.Parse(args)

	if *listen == "" {
		return fmt.Errorf("listen address is required")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	opts := serveOptions{dbPath: *dbPath, config: cfg, simulations: *simulations, streamInterval: *streamInterval}
	if *grpcListen != "" {
		opts.grpcListener, err = net.Listen("tcp", *grpcListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", *grpcListen, err)
		}
	}
	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		if opts.grpcListener != nil {
			opts.grpcListener.Close()
		}
		return fmt.Errorf("failed to listen on %s: %w", *listen, err)
	}
	return serve(ctx, ln, opts)
}

// serve runs the gallery, the HTTP server and the optional gRPC state
// stream until ctx is done. Running simulations are checkpointed on the way
// out and resumed on the next start.
func serve(ctx context.Context, ln net.Listener, opts serveOptions) error {
	closeListeners := func() {
		ln.Close()
		if opts.grpcListener != nil {
			opts.grpcListener.Close()
		}
	}
	database, err := db.NewDB(opts.dbPath)
	if err != nil {
		closeListeners()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	manager := crossing.NewManager(nil, database)
	defer manager.Close()

	resumed, err := resumeSimulations(ctx, manager, database)
	if err != nil {
		log.Printf("failed to resume simulations: %v", err)
	}
	if resumed == 0 {
		for i := 0; i < opts.simulations; i++ {
			id, err := manager.Create(ctx, opts.config)
			if err != nil {
				closeListeners()
				return fmt.Errorf("failed to start simulation: %w", err)
			}
			log.Printf("started simulation %s", id)
		}
	}

	mux := api.NewServer(manager, database, opts.config.GetOutputUnits()).ServeMux()
	database.AttachAdminRoutes(mux)

	server := &http.Server{
		Handler: api.LoggingMiddleware(mux),
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 2)

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var grpcServer *grpc.Server
	if opts.grpcListener != nil {
		grpcServer = grpc.NewServer()
		stream.NewServer(manager, nil, opts.streamInterval, opts.config.GetOutputUnits()).Register(grpcServer)

		// gRPC state stream goroutine
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC state stream listening on %s", opts.grpcListener.Addr())
			if err := grpcServer.Serve(opts.grpcListener); err != nil {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	if grpcServer != nil {
		log.Println("stopping gRPC state stream...")
		// Watch streams run until their client leaves; Stop cancels them.
		grpcServer.Stop()
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	wg.Wait()

	manager.Close()
	log.Printf("Graceful shutdown complete")
	return runErr
}

// resumeSimulations restarts every simulation that was checkpointed but
// never finished.
func resumeSimulations(ctx context.Context, manager *crossing.Manager, database *db.DB) (int, error) {
	records, err := database.ResumableSimulations(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, rec := range records {
		snap, err := database.LoadCheckpoint(ctx, rec.ID)
		if err != nil {
			log.Printf("skipping simulation %s: %v", rec.ID, err)
			continue
		}
		if _, err := manager.Resume(ctx, rec.ID, rec.Config, snap); err != nil {
			log.Printf("failed to resume simulation %s: %v", rec.ID, err)
			continue
		}
		log.Printf("resumed simulation %s at tick %d", rec.ID, snap.Tick)
		resumed++
	}
	return resumed, nil
}
