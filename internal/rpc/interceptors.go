package rpc

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshtopo/internal/logging"
)

// requestIDMetadataKey carries the request ID in both directions.
const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor adopts the caller's x-request-id or mints
// one, echoes it back as a response header, and puts a logger tagged with
// request_id and method on the context. Failed calls are logged at warn.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if id := incomingRequestID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, log)
		// Best effort: direct calls have no server stream.
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, logging.RequestIDFromContext(ctx)))

		resp, err := handler(ctx, req)
		if err != nil {
			log.Warn(ctx, "rpc failed", logging.Err(err))
		}
		return resp, err
	}
}

// RequestIDUnaryClientInterceptor sends the context's request ID, if any,
// as x-request-id.
func RequestIDUnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := logging.RequestIDFromContext(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// RateLimitUnaryServerInterceptor fails calls to methods with
// ResourceExhausted while limiter has no token. Other methods are not
// limited.
func RateLimitUnaryServerInterceptor(limiter *rate.Limiter, methods ...string) grpc.UnaryServerInterceptor {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if limited[info.FullMethod] && !limiter.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "%s rate limited", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

func incomingRequestID(ctx context.Context) string {
	return firstIncoming(ctx, requestIDMetadataKey)
}

func firstIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
