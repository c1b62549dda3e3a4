package tenancy

import (
	"slices"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
)

// RoleSet is the whitelist a handler declares.
type RoleSet []domain.Role

var (
	AnyRole      = RoleSet{domain.RoleTenantAdmin, domain.RoleSubAdmin, domain.RoleMember}
	Admins       = RoleSet{domain.RoleTenantAdmin, domain.RoleSubAdmin}
	TenantAdmins = RoleSet{domain.RoleTenantAdmin}
)

func (rs RoleSet) Allows(r domain.Role) bool {
	return slices.Contains(rs, r)
}
