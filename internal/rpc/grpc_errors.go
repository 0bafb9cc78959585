package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshtopo/core"
)

// ToStatusError maps meshtopo errors onto gRPC status codes. A missing
// result maps to Unavailable even when the failed run behind it was caused
// by bad input.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, core.ErrLocalUnknown):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrNoResult),
		errors.Is(err, core.ErrEngineStopped),
		errors.Is(err, core.ErrEngineNotStarted):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrInvalidCapture):
		return status.Error(codes.InvalidArgument, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
