package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/kralicky/voicebox/pkg/util"
)

// Middleware checks a request before it reaches the server, and may add
// values to its context. Middlewares run in order; the first error rejects
// the request.
type Middleware interface {
	Eval(ctx context.Context) (context.Context, error)
}

type MiddlewareFunc func(ctx context.Context) (context.Context, error)

func (f MiddlewareFunc) Eval(ctx context.Context) (context.Context, error) {
	return f(ctx)
}

// NewMiddleware stores the user found by authenticator in the request
// context, for AuthenticatedUserFromContext.
func NewMiddleware(authenticator Authenticator) Middleware {
	return MiddlewareFunc(func(ctx context.Context) (context.Context, error) {
		user, err := authenticator.Authenticate(ctx)
		if err != nil {
			return ctx, err
		}
		return ContextWithUser(ctx, user), nil
	})
}

func evalAll(ctx context.Context, middlewares []Middleware, method string) (context.Context, error) {
	for _, m := range middlewares {
		next, err := m.Eval(ctx)
		if err != nil {
			lg := slog.With("method", method, "error", err)
			if user, ok := UserFromContext(ctx); ok {
				lg = lg.With("user", user)
			}
			lg.Debug("request rejected")
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func UnaryServerInterceptor(middlewares []Middleware) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := evalAll(ctx, middlewares, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamServerInterceptor(middlewares []Middleware) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := evalAll(ss.Context(), middlewares, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, util.ServerStreamWithContext(ctx, ss))
	}
}
