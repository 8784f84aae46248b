package rbacv1

import (
	"fmt"
	"slices"

	"google.golang.org/grpc"
)

// Service describes an RPC service that roles may refer to.
type Service struct {
	Desc *grpc.ServiceDesc
	// Names of methods whose access is restricted per category.
	CategoryScoped []string
	// Known category names. If empty, category names are not checked.
	Categories []string
}

func (s Service) hasMethod(name string) bool {
	for _, m := range s.Desc.Methods {
		if m.MethodName == name {
			return true
		}
	}
	for _, st := range s.Desc.Streams {
		if st.StreamName == name {
			return true
		}
	}
	return false
}

// Validate checks the config against the services it may refer to. It
// reports the first problem found.
func (c *Config) Validate(services ...Service) error {
	roleIDs := newIDSet("role id")
	for _, r := range c.GetRoles() {
		if err := roleIDs.add(r.ID); err != nil {
			return err
		}
		idx := slices.IndexFunc(services, func(s Service) bool {
			return s.Desc.ServiceName == r.Service
		})
		if idx < 0 {
			return fmt.Errorf("invalid role %q: service %q not found", r.ID, r.Service)
		}
		if err := validateAllowedMethods(services[idx], r.AllowedMethods); err != nil {
			return fmt.Errorf("invalid role %q: %w", r.ID, err)
		}
	}

	bindingIDs := newIDSet("role binding id")
	for _, rb := range c.GetRoleBindings() {
		if err := bindingIDs.add(rb.ID); err != nil {
			return err
		}
		switch {
		case rb.RoleID == "":
			return fmt.Errorf("invalid role binding %q: role id cannot be empty", rb.ID)
		case !roleIDs.has(rb.RoleID):
			return fmt.Errorf("invalid role binding %q: role %q not found", rb.ID, rb.RoleID)
		case len(rb.Users) == 0:
			return fmt.Errorf("invalid role binding %q: at least one user must be configured", rb.ID)
		}
	}
	return nil
}

func validateAllowedMethods(svc Service, methods []*AllowedMethod) error {
	names := newIDSet("method name")
	for _, m := range methods {
		if err := names.add(m.Name); err != nil {
			return err
		}
		if !svc.hasMethod(m.Name) {
			return fmt.Errorf("service %q does not contain method %q", svc.Desc.ServiceName, m.Name)
		}
		if len(svc.Categories) > 0 {
			for _, cat := range m.Categories {
				if cat != Wildcard && !slices.Contains(svc.Categories, cat) {
					return fmt.Errorf("method %q refers to unknown category %q", m.Name, cat)
				}
			}
		}
		// Categories are listed exactly for the methods that act on one.
		scoped := slices.Contains(svc.CategoryScoped, m.Name)
		if len(m.Categories) > 0 && !scoped {
			return fmt.Errorf("method %q does not support categories", m.Name)
		}
		if len(m.Categories) == 0 && scoped {
			return fmt.Errorf("method %q requires categories", m.Name)
		}
	}
	return nil
}

type idSet struct {
	kind string
	seen map[string]struct{}
}

func newIDSet(kind string) *idSet {
	return &idSet{kind: kind, seen: make(map[string]struct{})}
}

func (s *idSet) add(id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", s.kind)
	}
	if s.has(id) {
		return fmt.Errorf("duplicate %s %q", s.kind, id)
	}
	s.seen[id] = struct{}{}
	return nil
}

func (s *idSet) has(id string) bool {
	_, ok := s.seen[id]
	return ok
}
