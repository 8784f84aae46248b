// Package rbac authorizes control API requests by method and task category.
package rbac

import (
	"context"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	rbacv1 "github.com/kralicky/voicebox/pkg/apis/rbac/v1"
	"github.com/kralicky/voicebox/pkg/auth"
	"github.com/kralicky/voicebox/pkg/util"
)

type allowedMethodKeyType struct{}

var allowedMethodKey = allowedMethodKeyType{}

// AllowedMethodFromContext returns the grant the allowed methods middleware
// matched for the current request.
func AllowedMethodFromContext(ctx context.Context) *rbacv1.AllowedMethod {
	v, ok := ctx.Value(allowedMethodKey).(*rbacv1.AllowedMethod)
	if !ok {
		panic("bug: allowed method not found in context (required middleware not configured)")
	}
	return v
}

type grantKey struct {
	user       string
	service    string
	methodName string
}

type middleware struct {
	// Built once from the config, which does not change while serving.
	grants map[grantKey]*rbacv1.AllowedMethod
}

var _ auth.Middleware = (*middleware)(nil)

// NewAllowedMethodsMiddleware rejects requests for methods the user is not
// granted by any of their roles. A user bound to several roles granting the
// same method gets the union of their categories.
func NewAllowedMethodsMiddleware(config *rbacv1.Config) auth.Middleware {
	rolesByID := make(map[string]*rbacv1.Role, len(config.GetRoles()))
	for _, role := range config.GetRoles() {
		rolesByID[role.ID] = role
	}
	m := &middleware{grants: make(map[grantKey]*rbacv1.AllowedMethod)}
	for _, rb := range config.GetRoleBindings() {
		role, ok := rolesByID[rb.RoleID]
		if !ok {
			continue
		}
		for _, user := range rb.Users {
			for _, am := range role.AllowedMethods {
				m.grant(grantKey{user, role.Service, am.Name}, am)
			}
		}
	}
	return m
}

func (h *middleware) grant(key grantKey, am *rbacv1.AllowedMethod) {
	existing, ok := h.grants[key]
	if !ok {
		h.grants[key] = am.Clone()
		return
	}
	for _, c := range am.Categories {
		if !slices.Contains(existing.Categories, c) {
			existing.Categories = append(existing.Categories, c)
		}
	}
}

// Eval implements auth.Middleware.
func (h *middleware) Eval(ctx context.Context) (context.Context, error) {
	user := auth.AuthenticatedUserFromContext(ctx)
	fullMethodName, ok := grpc.Method(ctx)
	if !ok {
		return ctx, status.Error(codes.Internal, "no method found in request context")
	}
	serviceName, methodName, ok := util.SplitFullyQualifiedMethodName(fullMethodName)
	if !ok {
		return ctx, status.Errorf(codes.Internal, "malformed method name %q", fullMethodName)
	}
	allowed, ok := h.grants[grantKey{string(user), serviceName, methodName}]
	if !ok {
		return ctx, status.Errorf(codes.PermissionDenied, "user %q is not authorized for method %q", user, fullMethodName)
	}
	return context.WithValue(ctx, allowedMethodKey, allowed.Clone()), nil
}
