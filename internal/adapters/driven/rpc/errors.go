package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// toGRPCError maps a domain error to a gRPC status for the wire.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSourceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnsupportedProtocol):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromGRPCError maps a gRPC status received from the peer back to a domain error.
func fromGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.OK:
		return nil
	case codes.Unimplemented:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedProtocol, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", domain.ErrReaderUnreachable, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	default:
		return fmt.Errorf("rpc %s: %s", st.Code(), st.Message())
	}
}

// Signatures of a stream the peer reset without an error code. Some readers
// close the connection before the Shutdown acknowledgement is flushed.
var shutdownRaceSignatures = []string{
	"RST_STREAM with code 0",
	"RST_STREAM with error code: NO_ERROR",
}

// isShutdownRace reports whether err is a clean reset after Shutdown.
func isShutdownRace(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range shutdownRaceSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
