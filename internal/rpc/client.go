package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/internal/wire"
)

// TopologyClient is a thin client for the topology service.
type TopologyClient struct {
	cc grpc.ClientConnInterface
}

// NewTopologyClient wraps an existing connection.
func NewTopologyClient(cc grpc.ClientConnInterface) *TopologyClient {
	return &TopologyClient{cc: cc}
}

// Dial opens an insecure connection to addr with tracing and request-ID
// propagation.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// GetTopology fetches the current result.
func (c *TopologyClient) GetTopology(ctx context.Context, opts ...grpc.CallOption) (*wire.Result, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetTopologyMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return wire.Unmarshal(data)
}

// GetStatus fetches the service status as a generic document.
func (c *TopologyClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// SubmitCapture sends a capture JSON document and returns the load summary.
func (c *TopologyClient) SubmitCapture(ctx context.Context, captureJSON []byte, opts ...grpc.CallOption) (core.CaptureSummary, error) {
	var summary core.CaptureSummary
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(captureJSON, in); err != nil {
		return summary, fmt.Errorf("%w: %w", core.ErrInvalidCapture, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitCaptureMethod, in, out, opts...); err != nil {
		return summary, err
	}
	data, err := protojson.Marshal(out)
	if err != nil {
		return summary, fmt.Errorf("decode summary: %w", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}

// MergeCapture sends a capture that the server adds to its snapshot instead
// of replacing it.
func (c *TopologyClient) MergeCapture(ctx context.Context, captureJSON []byte, opts ...grpc.CallOption) (core.CaptureSummary, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, captureModeMetadataKey, CaptureModeMerge)
	return c.SubmitCapture(ctx, captureJSON, opts...)
}

// Recompute asks the server to recompute its current snapshot and returns
// the engine request ID.
func (c *TopologyClient) Recompute(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RecomputeMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetFields()["request_id"].GetStringValue(), nil
}
