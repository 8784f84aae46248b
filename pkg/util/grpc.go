package util

import (
	"context"
	"errors"
	"strings"

	"github.com/kralicky/voicebox/pkg/tasks"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerStreamWithContext overrides the context of stream, so that values
// added by stream interceptors reach the handler.
func ServerStreamWithContext(ctx context.Context, stream grpc.ServerStream) grpc.ServerStream {
	return contextStream{ServerStream: stream, ctx: ctx}
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s contextStream) Context() context.Context { return s.ctx }

// SplitFullyQualifiedMethodName splits "/pkg.Service/Method" into
// "pkg.Service" and "Method".
func SplitFullyQualifiedMethodName(fqn string) (service, method string, ok bool) {
	rest, ok := strings.CutPrefix(fqn, "/")
	if !ok {
		return "", "", false
	}
	service, method, ok = strings.Cut(rest, "/")
	if !ok || service == "" || method == "" || strings.Contains(method, "/") {
		return "", "", false
	}
	return service, method, true
}

var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{tasks.ErrAlreadyRunning, codes.AlreadyExists},
	{tasks.ErrNotRunning, codes.FailedPrecondition},
	{tasks.ErrNotInteractive, codes.FailedPrecondition},
	{tasks.ErrSpawnFailed, codes.Internal},
	{tasks.ErrWriteFailed, codes.Unavailable},
	{tasks.ErrInvalidCommand, codes.InvalidArgument},
	{tasks.ErrUnknownCategory, codes.NotFound},
	{tasks.ErrNoRuns, codes.NotFound},
}

// StatusFromError converts an error returned by the supervisor into a gRPC
// status error. Errors that already carry a status are returned unchanged.
func StatusFromError(err error) error {
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
	}
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	return status.Error(codes.Unknown, err.Error())
}

type statusError struct {
	st       *status.Status
	sentinel error
}

func (e *statusError) Error() string              { return e.st.Message() }
func (e *statusError) Unwrap() error              { return e.sentinel }
func (e *statusError) GRPCStatus() *status.Status { return e.st }

// ErrorFromStatus is the client-side inverse of StatusFromError: if the
// status message names one of the supervisor's sentinel errors, the returned
// error wraps it so that callers can match it with errors.Is.
func ErrorFromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, sc := range statusCodes {
		if sc.code == st.Code() && strings.Contains(st.Message(), sc.err.Error()) {
			return &statusError{st: st, sentinel: sc.err}
		}
	}
	return err
}
