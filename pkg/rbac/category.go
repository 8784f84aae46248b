package rbac

import (
	"context"

	"github.com/kralicky/voicebox/pkg/auth"
	"github.com/kralicky/voicebox/pkg/tasks"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ErrCategoriesNotSupported = status.Errorf(codes.InvalidArgument, "method is not category-scoped")

// VerifyCategory verifies that the AllowedMethod in the context permits
// acting on the given category.
func VerifyCategory(ctx context.Context, category tasks.Category) error {
	am := AllowedMethodFromContext(ctx)
	if len(am.Categories) == 0 {
		return ErrCategoriesNotSupported
	}
	if !am.AllowsCategory(string(category)) {
		user := auth.AuthenticatedUserFromContext(ctx)
		return status.Errorf(codes.PermissionDenied, "user %q is not authorized for category %q", user, category)
	}
	return nil
}

type CategoryAssignable interface {
	AssignedCategory() tasks.Category
}

// FilterByCategory returns the items whose category is permitted by the
// AllowedMethod in the context.
func FilterByCategory[T CategoryAssignable, S ~[]T](ctx context.Context, items S) ([]T, error) {
	am := AllowedMethodFromContext(ctx)
	if len(am.Categories) == 0 {
		return nil, ErrCategoriesNotSupported
	}
	var filtered []T
	for _, item := range items {
		if am.AllowsCategory(string(item.AssignedCategory())) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}
