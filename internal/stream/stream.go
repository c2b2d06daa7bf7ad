// Package stream publishes the state of running simulations to renderers
// over a server-streaming gRPC call. Messages are google.protobuf.Struct
// values so no generated code is needed on either side.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/timeutil"
	"github.com/banshee-data/crossing/internal/units"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "crossing.v1.StateStream"

const watchMethod = "/" + ServiceName + "/Watch"

// DefaultInterval is the frame period used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Watcher is the server side of the StateStream service.
type Watcher interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Watcher)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "crossing/v1/stream.proto",
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Watcher).Watch(req, stream)
}

// Request selects the simulation to watch. MaxFrames of zero streams until
// the simulation is deleted or the client goes away.
type Request struct {
	ID        string `json:"id"`
	Units     string `json:"units,omitempty"`
	MaxFrames int    `json:"max_frames,omitempty"`
}

// Frame is one published state of a simulation, with lane speeds in Units.
type Frame struct {
	ID    string `json:"id"`
	Units string `json:"units"`
	crossing.State
}

// Server streams frames of the simulations run by a Manager.
type Server struct {
	manager  *crossing.Manager
	clock    timeutil.Clock
	interval time.Duration
	units    string
}

var _ Watcher = (*Server)(nil)

// NewServer publishes a frame of the watched simulation every interval
// whenever it has advanced. A nil clock uses the wall clock. unit is used
// for requests and configs that name none.
func NewServer(manager *crossing.Manager, clock timeutil.Clock, interval time.Duration, unit string) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Server{manager: manager, clock: clock, interval: interval, units: unit}
}

// Register adds the StateStream service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Watch implements the streaming RPC.
func (s *Server) Watch(reqMsg *structpb.Struct, stream grpc.ServerStream) error {
	var req Request
	if err := fromStruct(reqMsg, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if req.ID == "" {
		return status.Error(codes.InvalidArgument, "missing simulation id")
	}
	if req.MaxFrames < 0 {
		return status.Errorf(codes.InvalidArgument, "max_frames must not be negative, got %d", req.MaxFrames)
	}

	info, err := s.manager.Info(req.ID)
	if errors.Is(err, crossing.ErrNotFound) {
		return status.Errorf(codes.NotFound, "simulation %s not found", req.ID)
	}
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	unit := req.Units
	switch {
	case unit != "":
		if !units.IsValid(unit) {
			return status.Errorf(codes.InvalidArgument, "units must be one of %s", units.GetValidUnitsString())
		}
	case info.Config != nil && info.Config.OutputUnits != nil:
		unit = info.Config.GetOutputUnits()
	default:
		unit = s.units
	}

	log.Printf("[gRPC] Watch started: simulation=%s units=%s max_frames=%d", req.ID, unit, req.MaxFrames)
	ctx := stream.Context()
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	sent := 0
	lastTick := int64(-1)
	for {
		if info.Tick != lastTick {
			msg, err := toStruct(Frame{ID: req.ID, Units: unit, State: info.State.InUnits(unit)})
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
			lastTick = info.Tick
			sent++
			if req.MaxFrames > 0 && sent >= req.MaxFrames {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		info, err = s.manager.Info(req.ID)
		if errors.Is(err, crossing.ErrNotFound) {
			log.Printf("[gRPC] Watch ended: simulation %s deleted", req.ID)
			return nil
		}
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
	}
}

// Watch calls fn with every frame the server publishes for req until the
// stream ends. A non-nil error from fn stops the stream and is returned.
func Watch(ctx context.Context, conn grpc.ClientConnInterface, req Request, fn func(Frame) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		return err
	}
	msg, err := toStruct(req)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(msg); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var frame Frame
		if err := fromStruct(out, &frame); err != nil {
			return fmt.Errorf("failed to decode frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

// toStruct goes through the JSON form of v so the struct tags used by the
// HTTP API also name the message fields.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := new(structpb.Struct)
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func fromStruct(msg *structpb.Struct, v any) error {
	data, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
