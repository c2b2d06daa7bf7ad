package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/crossing/internal/stream"
)

// handleWatch follows one simulation over the gRPC state stream and prints
// every frame as a line of JSON.
func handleWatch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "localhost:50051", "Address of the gRPC state stream")
	id := fs.String("id", "", "Simulation ID")
	unit := fs.String("units", "", "Speed units of the lane (defaults to the server's)")
	frames := fs.Int("frames", 0, "Stop after this many frames (0 follows until the simulation ends)")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	if *frames < 0 {
		return fmt.Errorf("-frames must not be negative")
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *addr, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(out)
	req := stream.Request{ID: *id, Units: *unit, MaxFrames: *frames}
	return stream.Watch(ctx, conn, req, func(f stream.Frame) error {
		return enc.Encode(f)
	})
}
