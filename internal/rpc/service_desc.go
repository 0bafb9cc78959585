package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "meshtopo.v1.TopologyService"

// Full method names.
const (
	GetTopologyMethod   = "/" + ServiceName + "/GetTopology"
	GetStatusMethod     = "/" + ServiceName + "/GetStatus"
	SubmitCaptureMethod = "/" + ServiceName + "/SubmitCapture"
	RecomputeMethod     = "/" + ServiceName + "/Recompute"
)

// SubmitCapture replaces the snapshot unless the call carries
// captureModeMetadataKey set to CaptureModeMerge.
const (
	captureModeMetadataKey = "x-capture-mode"
	CaptureModeMerge       = "merge"
)

func incomingCaptureMode(ctx context.Context) string {
	return firstIncoming(ctx, captureModeMetadataKey)
}

// TopologyServiceServer is the server API for the topology service. The
// messages are well-known types: results and captures travel as
// google.protobuf.Struct documents carrying their JSON encoding.
type TopologyServiceServer interface {
	GetTopology(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SubmitCapture(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Recompute(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterTopologyServiceServer registers srv on s.
func RegisterTopologyServiceServer(s grpc.ServiceRegistrar, srv TopologyServiceServer) {
	s.RegisterService(&TopologyServiceDesc, srv)
}

// TopologyServiceDesc describes the service for grpc.ServiceRegistrar.
var TopologyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TopologyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTopology", Handler: getTopologyHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "SubmitCapture", Handler: submitCaptureHandler},
		{MethodName: "Recompute", Handler: recomputeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshtopo/v1/topology.proto",
}

func getTopologyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopologyServiceServer).GetTopology(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetTopologyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopologyServiceServer).GetTopology(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopologyServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopologyServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func submitCaptureHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopologyServiceServer).SubmitCapture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitCaptureMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopologyServiceServer).SubmitCapture(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func recomputeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopologyServiceServer).Recompute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RecomputeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopologyServiceServer).Recompute(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
