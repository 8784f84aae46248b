// Package auth identifies the caller of a control API request.
package auth

import (
	"context"
)

type AuthenticatedUser string

// Authenticator derives the calling user from the context of an incoming
// request.
type Authenticator interface {
	Authenticate(ctx context.Context) (AuthenticatedUser, error)
}

type userKeyType struct{}

var userKey userKeyType

func ContextWithUser(ctx context.Context, user AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	user, ok := ctx.Value(userKey).(AuthenticatedUser)
	return user, ok
}

// AuthenticatedUserFromContext returns the user set by the authentication
// middleware. It panics if the middleware did not run, so it must only be
// called from server handlers and the middlewares that follow it.
func AuthenticatedUserFromContext(ctx context.Context) AuthenticatedUser {
	if user, ok := UserFromContext(ctx); ok {
		return user
	}
	panic("bug: request context carries no authenticated user (authentication middleware not configured)")
}

// NewStaticAuthenticator identifies every caller as user. The server uses it
// when listening without TLS, where there is no certificate to name the
// caller.
func NewStaticAuthenticator(user AuthenticatedUser) Authenticator {
	return staticAuthenticator(user)
}

type staticAuthenticator AuthenticatedUser

func (a staticAuthenticator) Authenticate(context.Context) (AuthenticatedUser, error) {
	return AuthenticatedUser(a), nil
}
