package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

func TestTokenService_IssueBindsDevice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	device := idx.NewDevice()

	pair, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: device, Name: "laptop", OS: "linux"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, 900, pair.ExpiresIn)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := e.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, p.ID, claims.Subject)
	require.Equal(t, p.TenantID, claims.TenantID)
	require.Equal(t, device, claims.DeviceID)
	require.Equal(t, string(domain.RoleMember), claims.Role)
	require.Equal(t, jwtx.TokenUseAccess, claims.TokenUse)

	devices, err := e.store.Principals().ListDevices(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "laptop", devices[0].Name)
}

func TestTokenService_RefreshTokenIsNotAnAccessToken(t *testing.T) {
	e := newEnv(t)
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	pair, err := e.tokens.Issue(context.Background(), scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.NoError(t, err)

	_, err = e.tokens.VerifyAccess(pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenService_AccessTokenExpires(t *testing.T) {
	e := newEnv(t)
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	pair, err := e.tokens.Issue(context.Background(), scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.NoError(t, err)

	e.clock.Advance(16 * time.Minute)
	_, err = e.tokens.VerifyAccess(pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenService_RefreshRotates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	device := idx.NewDevice()

	first, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: device})
	require.NoError(t, err)

	e.clock.Advance(time.Minute)
	second, err := e.tokens.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	claims, err := e.tokens.VerifyAccess(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, device, claims.DeviceID)

	// The consumed token is dead, the new one is live.
	_, err = e.tokens.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = e.tokens.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestTokenService_LoginInvalidatesEarlierRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	device := idx.NewDevice()

	old, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: device})
	require.NoError(t, err)
	_, err = e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: device})
	require.NoError(t, err)

	_, err = e.tokens.Refresh(ctx, old.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenService_DevicesRotateIndependently(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	laptop, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.NoError(t, err)
	phone, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.NoError(t, err)

	_, err = e.tokens.Refresh(ctx, laptop.RefreshToken)
	require.NoError(t, err)
	_, err = e.tokens.Refresh(ctx, phone.RefreshToken)
	require.NoError(t, err)
}

func TestTokenService_Revoke(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	device := idx.NewDevice()

	pair, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: device})
	require.NoError(t, err)

	require.NoError(t, e.tokens.Revoke(ctx, p.ID, device))
	require.NoError(t, e.tokens.Revoke(ctx, p.ID, device), "revoke is idempotent")

	_, err = e.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	// Access tokens run out on their own.
	_, err = e.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
}

func TestTokenService_RefreshExpiresWithCacheEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	pair, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.NoError(t, err)

	e.clock.Advance(8 * 24 * time.Hour)
	_, err = e.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenService_DeviceCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	devices := []string{idx.NewDevice(), idx.NewDevice(), idx.NewDevice()}
	for _, d := range devices {
		_, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: d})
		require.NoError(t, err)
	}

	_, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.ErrorIs(t, err, domain.ErrDeviceLimitExceeded)

	// Known devices keep working at the cap.
	_, err = e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: devices[1]})
	require.NoError(t, err)

	bound, err := e.store.Principals().ListDevices(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Len(t, bound, 3)
}

func TestTokenService_RejectsBadDevice(t *testing.T) {
	e := newEnv(t)
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	_, err := e.tokens.Issue(context.Background(), scope, p, domain.DeviceInfo{ID: "not-a-uuid"})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestTokenService_SuspendedPrincipalCannotRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	pair, err := e.tokens.Issue(ctx, scope, p, domain.DeviceInfo{ID: idx.NewDevice()})
	require.NoError(t, err)

	require.NoError(t, e.store.Principals().UpdateStatus(ctx, scope, p.ID, domain.PrincipalSuspended))
	_, err = e.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRefreshKey(t *testing.T) {
	require.Equal(t, "refresh:p1:d1", service.RefreshKey("p1", "d1"))
}
