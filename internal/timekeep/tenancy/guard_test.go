package tenancy_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

func claimsFor(tenantID, subject string, role domain.Role, device string) jwtx.Claims {
	return jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		TenantID:         tenantID,
		Role:             string(role),
		DeviceID:         device,
		TokenUse:         jwtx.TokenUseAccess,
	}
}

func TestFromClaims(t *testing.T) {
	device := idx.NewDevice()

	scope, err := tenancy.FromClaims(claimsFor("t1", "p1", domain.RoleSubAdmin, device))
	require.NoError(t, err)
	tid, err := scope.TenantID()
	require.NoError(t, err)
	require.Equal(t, "t1", tid)
	require.Equal(t, "p1", scope.PrincipalID())
	require.Equal(t, domain.RoleSubAdmin, scope.Role())
	require.Equal(t, device, scope.DeviceID())
	require.True(t, scope.IsAdmin())

	t.Run("EmptyTenant", func(t *testing.T) {
		scope, err := tenancy.FromClaims(claimsFor("", "p1", domain.RoleMember, device))
		require.ErrorIs(t, err, domain.ErrMissingTenantContext)
		require.True(t, scope.IsZero())
	})

	t.Run("EmptySubject", func(t *testing.T) {
		_, err := tenancy.FromClaims(claimsFor("t1", "", domain.RoleMember, device))
		require.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("UnknownRole", func(t *testing.T) {
		_, err := tenancy.FromClaims(claimsFor("t1", "p1", domain.Role("owner"), device))
		require.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}

func TestZeroScopeFailsClosed(t *testing.T) {
	var scope tenancy.Scope
	require.True(t, scope.IsZero())

	_, err := scope.TenantID()
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)

	require.ErrorIs(t, tenancy.Authorize(scope, tenancy.AnyRole), domain.ErrMissingTenantContext)

	_, err = tenancy.ForTenant("")
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)
}

func TestAuthorize(t *testing.T) {
	member, err := tenancy.FromClaims(claimsFor("t1", "p1", domain.RoleMember, idx.NewDevice()))
	require.NoError(t, err)
	require.NoError(t, tenancy.Authorize(member, tenancy.AnyRole))
	require.ErrorIs(t, tenancy.Authorize(member, tenancy.Admins), domain.ErrInsufficientPermissions)

	// A tenant-only scope has no role, so no handler whitelist admits it.
	job, err := tenancy.ForTenant("t1")
	require.NoError(t, err)
	require.ErrorIs(t, tenancy.Authorize(job, tenancy.AnyRole), domain.ErrInsufficientPermissions)
}

func TestCheckDevice(t *testing.T) {
	bound := idx.NewDevice()

	require.NoError(t, tenancy.CheckDevice("", bound), "absent header passes")
	require.NoError(t, tenancy.CheckDevice(bound, bound))
	require.ErrorIs(t, tenancy.CheckDevice(idx.NewDevice(), bound), domain.ErrDeviceMismatch)
	require.ErrorIs(t, tenancy.CheckDevice("laptop-1", bound), domain.ErrDeviceMismatch)
	require.ErrorIs(t, tenancy.CheckDevice(" ", bound), domain.ErrDeviceMismatch)
}

type stubVerifier struct {
	claims jwtx.Claims
	err    error
	calls  int
}

func (v *stubVerifier) VerifyAccess(string) (jwtx.Claims, error) {
	v.calls++
	return v.claims, v.err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrMissingTenantContext),
		errors.Is(err, domain.ErrDeviceMismatch),
		errors.Is(err, domain.ErrInsufficientPermissions):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type guarded struct {
	code  int
	err   error
	scope *tenancy.Scope
}

func serveGuarded(t *testing.T, v tenancy.AccessVerifier, roles tenancy.RoleSet, header string) guarded {
	t.Helper()
	var out guarded
	g := tenancy.NewGuard(v, func(w http.ResponseWriter, _ *http.Request, err error) {
		out.err = err
		w.WriteHeader(statusFor(err))
	})
	h := g.Protect(roles, tenancy.ScopedHandlerFunc(func(w http.ResponseWriter, _ *http.Request, scope tenancy.Scope) {
		out.scope = &scope
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	if header != "" {
		req.Header.Set(tenancy.DeviceHeader, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out.code = rec.Code
	return out
}

func TestGuardProtect(t *testing.T) {
	device := idx.NewDevice()

	t.Run("Allowed", func(t *testing.T) {
		v := &stubVerifier{claims: claimsFor("t1", "p1", domain.RoleMember, device)}
		res := serveGuarded(t, v, tenancy.AnyRole, device)
		require.NoError(t, res.err)
		require.Equal(t, http.StatusNoContent, res.code)
		require.NotNil(t, res.scope)
		require.Equal(t, "p1", res.scope.PrincipalID())
		require.Equal(t, 1, v.calls)
	})

	t.Run("MissingBearer", func(t *testing.T) {
		v := &stubVerifier{}
		g := tenancy.NewGuard(v, func(w http.ResponseWriter, _ *http.Request, err error) {
			w.WriteHeader(statusFor(err))
		})
		h := g.Protect(tenancy.AnyRole, tenancy.ScopedHandlerFunc(func(http.ResponseWriter, *http.Request, tenancy.Scope) {
			t.Fatal("handler must not run")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Zero(t, v.calls)
	})

	t.Run("VerifierRejects", func(t *testing.T) {
		v := &stubVerifier{err: domain.ErrInvalidToken}
		res := serveGuarded(t, v, tenancy.AnyRole, "")
		require.ErrorIs(t, res.err, domain.ErrInvalidToken)
		require.Equal(t, http.StatusUnauthorized, res.code)
		require.Nil(t, res.scope)
	})

	t.Run("NoTenantClaim", func(t *testing.T) {
		v := &stubVerifier{claims: claimsFor("", "p1", domain.RoleTenantAdmin, device)}
		res := serveGuarded(t, v, tenancy.AnyRole, "")
		require.ErrorIs(t, res.err, domain.ErrMissingTenantContext)
		require.Equal(t, http.StatusForbidden, res.code)
		require.Nil(t, res.scope)
	})

	t.Run("MalformedDeviceHeader", func(t *testing.T) {
		v := &stubVerifier{claims: claimsFor("t1", "p1", domain.RoleMember, device)}
		res := serveGuarded(t, v, tenancy.AnyRole, "not-a-uuid")
		require.ErrorIs(t, res.err, domain.ErrDeviceMismatch)
		require.Equal(t, http.StatusForbidden, res.code)
		require.Nil(t, res.scope)
	})

	t.Run("RoleNotWhitelisted", func(t *testing.T) {
		v := &stubVerifier{claims: claimsFor("t1", "p1", domain.RoleMember, device)}
		res := serveGuarded(t, v, tenancy.TenantAdmins, "")
		require.ErrorIs(t, res.err, domain.ErrInsufficientPermissions)
		require.Equal(t, http.StatusForbidden, res.code)
		require.Nil(t, res.scope)
	})
}
