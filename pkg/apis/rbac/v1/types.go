package rbacv1

// Wildcard matches every category.
const Wildcard = "*"

type Config struct {
	Roles        []*Role        `yaml:"roles" json:"roles"`
	RoleBindings []*RoleBinding `yaml:"roleBindings" json:"roleBindings"`
}

// Role grants access to a set of methods of one service.
type Role struct {
	ID             string           `yaml:"id" json:"id"`
	Service        string           `yaml:"service" json:"service"`
	AllowedMethods []*AllowedMethod `yaml:"allowedMethods" json:"allowedMethods"`
}

type AllowedMethod struct {
	Name string `yaml:"name" json:"name"`
	// Categories the method may act on, or Wildcard. Required for methods
	// that are category-scoped, and rejected for all other methods.
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

type RoleBinding struct {
	ID     string   `yaml:"id" json:"id"`
	RoleID string   `yaml:"roleId" json:"roleId"`
	Users  []string `yaml:"users" json:"users"`
}

func (c *Config) GetRoles() []*Role {
	if c == nil {
		return nil
	}
	return c.Roles
}

func (c *Config) GetRoleBindings() []*RoleBinding {
	if c == nil {
		return nil
	}
	return c.RoleBindings
}

// AllowsCategory reports whether the method may act on the given category.
func (m *AllowedMethod) AllowsCategory(category string) bool {
	for _, c := range m.Categories {
		if c == Wildcard || c == category {
			return true
		}
	}
	return false
}

func (m *AllowedMethod) Clone() *AllowedMethod {
	return &AllowedMethod{
		Name:       m.Name,
		Categories: append([]string(nil), m.Categories...),
	}
}
