package tenancy

import (
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

// DeviceHeader lets a client state which device it is calling from.
const DeviceHeader = "X-Device-ID"

// AccessVerifier verifies access tokens. Any error means the token is unusable.
type AccessVerifier interface {
	VerifyAccess(token string) (jwtx.Claims, error)
}

// ScopedHandler serves a request that has already been authenticated and
// scoped. The scope is an argument, never something read off the request.
type ScopedHandler interface {
	ServeScoped(w http.ResponseWriter, r *http.Request, scope Scope)
}

type ScopedHandlerFunc func(w http.ResponseWriter, r *http.Request, scope Scope)

func (f ScopedHandlerFunc) ServeScoped(w http.ResponseWriter, r *http.Request, scope Scope) {
	f(w, r, scope)
}

// ErrorWriter renders a domain error onto the response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Guard authenticates, scopes and role-checks requests.
type Guard struct {
	verifier AccessVerifier
	writeErr ErrorWriter
}

func NewGuard(v AccessVerifier, writeErr ErrorWriter) *Guard {
	return &Guard{verifier: v, writeErr: writeErr}
}

// Protect wraps h so it only runs for a valid token whose role is in roles.
func (g *Guard) Protect(roles RoleSet, h ScopedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := httpx.BearerToken(r)
		if !ok {
			g.writeErr(w, r, fmt.Errorf("%w: missing bearer token", domain.ErrInvalidToken))
			return
		}

		scope, err := g.Authenticate(r, token)
		if err != nil {
			g.writeErr(w, r, err)
			return
		}

		ctx := slogx.WithAttrs(r.Context(), scope.LogAttrs()...)
		r = r.WithContext(ctx)

		if err := Authorize(scope, roles); err != nil {
			slogx.FromContext(ctx).Warn("role not permitted", "allowed", roles)
			g.writeErr(w, r, err)
			return
		}

		h.ServeScoped(w, r, scope)
	})
}

// Authenticate verifies token, checks the optional device header and
// returns the caller's scope. Role checks are left to Authorize.
func (g *Guard) Authenticate(r *http.Request, token string) (Scope, error) {
	claims, err := g.verifier.VerifyAccess(token)
	if err != nil {
		return Scope{}, err
	}

	if err := CheckDevice(r.Header.Get(DeviceHeader), claims.DeviceID); err != nil {
		slogx.FromContext(r.Context()).Warn("device header does not match token",
			"principal_id", claims.Subject,
			"token_device", claims.DeviceID,
		)
		return Scope{}, err
	}

	return FromClaims(claims)
}

// Authorize is the role whitelist step. It runs after, and independent of,
// tenant scoping.
func Authorize(scope Scope, roles RoleSet) error {
	if scope.IsZero() {
		return domain.ErrMissingTenantContext
	}
	if !roles.Allows(scope.Role()) {
		return domain.ErrInsufficientPermissions
	}
	return nil
}

// CheckDevice compares a client supplied device id with the token's bound
// device. An absent header passes; anything else must match exactly.
func CheckDevice(header, bound string) error {
	if header == "" {
		return nil
	}
	got, err := idx.ParseDevice(header)
	if err != nil || got != bound {
		return domain.ErrDeviceMismatch
	}
	return nil
}
