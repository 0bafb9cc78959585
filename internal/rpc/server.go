// Package rpc exposes the topology service over gRPC.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/internal/logging"
	"github.com/signalsfoundry/meshtopo/internal/observability"
	"github.com/signalsfoundry/meshtopo/internal/service"
)

// Topology is what the RPC handlers need from the service layer.
type Topology interface {
	CurrentJSON() ([]byte, error)
	Status() service.Status
	Ingest(*core.Capture) error
	Merge(*core.Capture) error
	Recompute(ctx context.Context) (string, error)
}

// Server implements TopologyServiceServer on top of a Topology.
type Server struct {
	topo Topology
	log  logging.Logger
}

var _ TopologyServiceServer = (*Server)(nil)

// NewServer constructs a Server bound to topo.
func NewServer(topo Topology, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{topo: topo, log: log}
}

// GetTopology returns the last good result in its wire JSON form.
func (s *Server) GetTopology(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	data, err := s.topo.CurrentJSON()
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := structFromJSON(data)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// GetStatus reports the service status.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := structFromValue(s.topo.Status())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// SubmitCapture replaces the snapshot with the capture document in req and
// reports what was accepted. A call carrying the merge capture mode adds the
// capture to the snapshot instead. The recomputation it causes runs
// asynchronously.
func (s *Server) SubmitCapture(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, ToStatusError(fmt.Errorf("%w: empty request", core.ErrInvalidCapture))
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %w", core.ErrInvalidCapture, err))
	}

	ctx, span := StartChildSpan(ctx, "topology.ingest", attribute.Int("bytes", len(data)))
	defer span.End()

	capture, summary, err := core.LoadCaptureJSON(bytes.NewReader(data))
	if err != nil {
		return nil, ToStatusError(err)
	}
	merge := incomingCaptureMode(ctx) == CaptureModeMerge
	if merge {
		err = s.topo.Merge(capture)
	} else {
		err = s.topo.Ingest(capture)
	}
	if err != nil {
		return nil, ToStatusError(err)
	}

	reqLog := logging.LoggerFromContext(ctx)
	if reqLog == nil {
		reqLog = s.log
	}
	reqLog.Info(ctx, "capture submitted",
		logging.Any("merge", merge),
		logging.Int("packets", summary.Packets),
		logging.Int("neighbors", summary.Neighbors),
		logging.Int("skipped_packets", summary.SkippedPackets),
		logging.Int("skipped_neighbors", summary.SkippedNeighbors),
	)

	out, err := structFromValue(summary)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Recompute forces a computation of the current snapshot, bypassing the
// result cache.
func (s *Server) Recompute(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := s.topo.Recompute(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := structpb.NewStruct(map[string]any{"request_id": id})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// ServerOptions configures NewGRPCServer.
type ServerOptions struct {
	Logger  logging.Logger
	Metrics *observability.RPCCollector
	// IngestLimiter, when set, throttles SubmitCapture and Recompute.
	IngestLimiter *rate.Limiter
	Extra         []grpc.ServerOption
}

// NewGRPCServer builds a gRPC server with the topology service, the
// standard health service and otelgrpc stats. Calls pass the request-ID,
// tracing, metrics and optional ingest rate-limit interceptors in order.
func NewGRPCServer(srv TopologyServiceServer, opts ServerOptions) (*grpc.Server, *health.Server) {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
		opts.Metrics.UnaryServerInterceptor(),
	}
	if opts.IngestLimiter != nil {
		interceptors = append(interceptors, RateLimitUnaryServerInterceptor(opts.IngestLimiter, SubmitCaptureMethod, RecomputeMethod))
	}
	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
	serverOpts = append(serverOpts, opts.Extra...)

	gs := grpc.NewServer(serverOpts...)
	RegisterTopologyServiceServer(gs, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

func structFromJSON(data []byte) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return out, nil
}

func structFromValue(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structFromJSON(data)
}
