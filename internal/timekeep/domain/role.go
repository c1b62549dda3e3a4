package domain

import "fmt"

type Role string

const (
	RoleTenantAdmin Role = "tenant_admin"
	RoleSubAdmin    Role = "sub_admin"
	RoleMember      Role = "member"
)

// ParseRole accepts only the closed set of roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleTenantAdmin, RoleSubAdmin, RoleMember:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsAdmin reports whether the role may act on other principals' data.
func (r Role) IsAdmin() bool {
	return r == RoleTenantAdmin || r == RoleSubAdmin
}
