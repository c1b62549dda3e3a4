// Package tenancy turns verified token claims into the Scope value that
// every persistence call requires.
package tenancy

import (
	"fmt"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

// Scope pins data access to one tenant and records who is acting. Fields
// are unexported: a non-zero Scope only comes from FromClaims or ForTenant,
// and the zero value fails closed everywhere.
type Scope struct {
	tenantID    string
	principalID string
	role        domain.Role
	deviceID    string
}

// FromClaims builds the scope of an authenticated request.
func FromClaims(c jwtx.Claims) (Scope, error) {
	if c.TenantID == "" {
		return Scope{}, domain.ErrMissingTenantContext
	}
	if c.Subject == "" {
		return Scope{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	role, err := domain.ParseRole(c.Role)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return Scope{
		tenantID:    c.TenantID,
		principalID: c.Subject,
		role:        role,
		deviceID:    c.DeviceID,
	}, nil
}

// ForTenant builds a scope with no acting principal. Used before a token
// exists (login, bootstrap) and by background jobs.
func ForTenant(tenantID string) (Scope, error) {
	if tenantID == "" {
		return Scope{}, domain.ErrMissingTenantContext
	}
	return Scope{tenantID: tenantID}, nil
}

// TenantID returns the tenant filter, failing closed on the zero Scope.
func (s Scope) TenantID() (string, error) {
	if s.tenantID == "" {
		return "", domain.ErrMissingTenantContext
	}
	return s.tenantID, nil
}

func (s Scope) PrincipalID() string { return s.principalID }
func (s Scope) Role() domain.Role   { return s.role }
func (s Scope) DeviceID() string    { return s.deviceID }
func (s Scope) IsZero() bool        { return s.tenantID == "" }

// IsAdmin reports whether the acting principal holds an admin role.
func (s Scope) IsAdmin() bool { return s.role.IsAdmin() }

// Identity returns the token identity this scope was built from.
func (s Scope) Identity() jwtx.Identity {
	return jwtx.Identity{
		PrincipalID: s.principalID,
		TenantID:    s.tenantID,
		Role:        string(s.role),
		DeviceID:    s.deviceID,
	}
}

// LogAttrs returns the scope as slog key/value pairs.
func (s Scope) LogAttrs() []any {
	return []any{
		"tenant_id", s.tenantID,
		"principal_id", s.principalID,
		"role", string(s.role),
		"device_id", s.deviceID,
	}
}
