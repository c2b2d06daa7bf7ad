package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/crossing/internal/config"
	"github.com/banshee-data/crossing/internal/db"
	"github.com/banshee-data/crossing/internal/version"
)

var showVersion = flag.Bool("version", false, "Print version information and exit")

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err = handleServe(ctx, args)
		stop()
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err = handleWatch(ctx, args, os.Stdout)
		stop()
	case "run":
		err = handleRun(args, os.Stdout)
	case "migrate":
		err = handleMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`crossing - single-lane signalized approach simulator

Usage: crossing [-version] <command> [options]

Commands:
  serve      Run simulations and serve them over HTTP (and gRPC with -grpc-listen)
  watch      Print the frames of one simulation from the gRPC state stream
  run        Run one simulation headless on simulated time and print its final state
  migrate    Manage the database schema (crossing migrate help)
  version    Show version information
  help       Show this help message

Examples:
  crossing serve -listen :8080 -db crossing.db -simulations 4
  crossing serve -listen :8080 -grpc-listen :50051
  crossing watch -addr localhost:50051 -id <simulation id> -units mph
  crossing run -ticks 24000 -seed 42
  crossing migrate -db crossing.db status`)
}

// loadConfig reads path, or returns the built-in defaults when path is
// empty.
func loadConfig(path string) (*config.SimulationConfig, error) {
	if path == "" {
		return config.DefaultSimulationConfig(), nil
	}
	cfg, err := config.LoadSimulationConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "crossing.db", "Path to the sqlite database")
	fs.Parse(args)
	return db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdin, os.Stdout)
}
