package api

import (
	"errors"

	"github.com/signalsfoundry/occupancy-monitor/internal/config"
	sim "github.com/signalsfoundry/occupancy-monitor/internal/sim/state"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrInvalidRequest is used for client-side validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps monitor errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, sim.ErrOccupantNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, config.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrInvalidConfig):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
