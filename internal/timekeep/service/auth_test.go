package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
)

func loginReq(scope tenancy.Scope, email, password string) service.LoginRequest {
	tid, _ := scope.TenantID()
	return service.LoginRequest{
		TenantID: tid,
		Email:    email,
		Password: password,
		DeviceID: idx.NewDevice(),
	}
}

func TestLogin_Succeeds(t *testing.T) {
	e := newEnv(t)
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleSubAdmin)

	req := loginReq(scope, "  Ann@Acme.TEST ", testPassword)
	res, err := e.auth.Login(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, p.ID, res.Principal.ID)
	require.Equal(t, domain.RoleSubAdmin, res.Principal.Role)
	require.False(t, res.Principal.MFAEnabled)

	claims, err := e.tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, req.DeviceID, claims.DeviceID)
}

func TestLogin_InvalidCredentialsAreUniform(t *testing.T) {
	e := newEnv(t)
	scope := e.tenant(t, "Acme")
	other := e.tenant(t, "Globex")
	e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	cases := map[string]service.LoginRequest{
		"wrong password": loginReq(scope, "ann@acme.test", "wrong-password"),
		"unknown email":  loginReq(scope, "bob@acme.test", testPassword),
		"wrong tenant":   loginReq(other, "ann@acme.test", testPassword),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.auth.Login(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrInvalidCredentials)
		})
	}
}

func TestLogin_SuspendedPrincipal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	require.NoError(t, e.store.Principals().UpdateStatus(ctx, scope, p.ID, domain.PrincipalSuspended))

	_, err := e.auth.Login(ctx, loginReq(scope, "ann@acme.test", testPassword))
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLogin_Validation(t *testing.T) {
	e := newEnv(t)

	_, err := e.auth.Login(context.Background(), service.LoginRequest{Email: "nope", DeviceID: "x"})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "tenant_id")
	require.Contains(t, verr.Fields, "email")
	require.Contains(t, verr.Fields, "password")
	require.Contains(t, verr.Fields, "device_id")
}

func TestLogin_WithMFA(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "timekeep", AccountName: p.Email})
	require.NoError(t, err)
	secret := key.Secret()
	require.NoError(t, e.store.Principals().SetMFASecret(ctx, scope, p.ID, &secret))

	req := loginReq(scope, p.Email, testPassword)
	_, err = e.auth.Login(ctx, req)
	require.ErrorIs(t, err, domain.ErrValidationFailed, "code is required")

	req.OTPCode = "12345"
	_, err = e.auth.Login(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	req.OTPCode, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	res, err := e.auth.Login(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Principal.MFAEnabled)
}

func TestLogout_RevokesDevice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)

	res, err := e.auth.Login(ctx, loginReq(scope, p.Email, testPassword))
	require.NoError(t, err)
	claims, err := e.tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	caller, err := tenancy.FromClaims(claims)
	require.NoError(t, err)

	require.NoError(t, e.auth.Logout(ctx, caller))
	_, err = e.tokens.Refresh(ctx, res.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestMFA_EnrollConfirmDisable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	caller := e.actAs(t, scope, p, idx.NewDevice())

	mfa := &service.MFAService{Store: e.store, Cache: e.cache, Issuer: "timekeep"}

	err := mfa.Confirm(ctx, caller, "123456")
	require.ErrorIs(t, err, domain.ErrValidationFailed, "nothing pending")

	enr, err := mfa.Enroll(ctx, caller)
	require.NoError(t, err)
	require.NotEmpty(t, enr.Secret)
	require.Contains(t, enr.URL, "otpauth://totp/")
	require.Equal(t, 600, enr.ExpiresIn)

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, mfa.Confirm(ctx, caller, code))

	got, err := e.store.Principals().Get(ctx, scope, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MFASecret)
	require.Equal(t, enr.Secret, *got.MFASecret)

	_, err = mfa.Enroll(ctx, caller)
	require.ErrorIs(t, err, service.ErrMFAAlreadyEnabled)

	require.NoError(t, mfa.Disable(ctx, caller, code))
	err = mfa.Disable(ctx, caller, code)
	require.ErrorIs(t, err, service.ErrMFANotEnabled)
}

func TestMFA_PendingEnrolmentExpires(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := e.tenant(t, "Acme")
	p := e.principal(t, scope, "ann@acme.test", domain.RoleMember)
	caller := e.actAs(t, scope, p, idx.NewDevice())

	mfa := &service.MFAService{Store: e.store, Cache: e.cache, Issuer: "timekeep"}
	enr, err := mfa.Enroll(ctx, caller)
	require.NoError(t, err)

	e.clock.Advance(service.PendingMFATTL + time.Second)
	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, mfa.Confirm(ctx, caller, code), domain.ErrValidationFailed)
}
