// internal/handler/errors.go
package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/volseg-service/internal/inference"
	"github.com/SyedDaiam9101/volseg-service/internal/store"
)

// grpcError maps known internal errors to appropriate gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var (
		shapeErr      *inference.ShapeMismatchError
		degenerateErr *inference.DegenerateSliceError
		loadErr       *inference.ModelLoadError
	)

	switch {
	case errors.As(err, &shapeErr):
		return status.Errorf(codes.InvalidArgument, "volume shape mismatch: %v", err)

	case errors.As(err, &degenerateErr):
		return status.Errorf(codes.InvalidArgument, "degenerate volume: %v", err)

	case errors.Is(err, inference.ErrInvalidVolume):
		return status.Errorf(codes.InvalidArgument, "%v", err)

	case errors.As(err, &loadErr):
		return status.Errorf(codes.FailedPrecondition, "model loading failed: %v", err)

	case errors.Is(err, store.ErrNotFound):
		return status.Errorf(codes.NotFound, "%v", err)

	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%v", err)

	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%v", err)

	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// failedPreconditionError creates a FailedPrecondition gRPC error
func failedPreconditionError(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// internalError creates an Internal gRPC error
func internalError(format string, args ...interface{}) error {
	return status.Errorf(codes.Internal, format, args...)
}
