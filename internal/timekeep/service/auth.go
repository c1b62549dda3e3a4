package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

type LoginRequest struct {
	TenantID   string `json:"tenant_id"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	DeviceOS   string `json:"device_os,omitempty"`
	OTPCode    string `json:"otp_code,omitempty"`
}

// Validate normalises the request in place and reports every bad field.
func (r *LoginRequest) Validate() error {
	fields := map[string]string{}

	r.TenantID = strings.TrimSpace(r.TenantID)
	if r.TenantID == "" {
		fields["tenant_id"] = "is required"
	}
	r.Email = normaliseEmail(r.Email)
	if !validEmail(r.Email) {
		fields["email"] = "must be an email address"
	}
	if r.Password == "" {
		fields["password"] = "is required"
	}
	if id, err := idx.ParseDevice(r.DeviceID); err != nil {
		fields["device_id"] = "must be a UUID"
	} else {
		r.DeviceID = id
	}
	if len(r.DeviceName) > 128 {
		fields["device_name"] = "must be at most 128 characters"
	}
	if len(r.DeviceOS) > 64 {
		fields["device_os"] = "must be at most 64 characters"
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

type LoginResult struct {
	domain.TokenPair
	Principal domain.PrincipalSummary `json:"principal"`
}

// AuthService authenticates credentials and hands out token pairs.
type AuthService struct {
	Store  store.Store
	Tokens *TokenService
	Hasher *cryptox.PasswordHasher

	// dummyHash is verified against when the email is unknown so both
	// paths cost one argon2 evaluation.
	dummyHash string
}

func NewAuthService(st store.Store, tokens *TokenService, hasher *cryptox.PasswordHasher) (*AuthService, error) {
	dummy, err := hasher.Hash("timekeep-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthService{Store: st, Tokens: tokens, Hasher: hasher, dummyHash: dummy}, nil
}

// Login checks credentials (and the TOTP code when the principal has MFA)
// and issues a pair bound to the requesting device.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	if err := req.Validate(); err != nil {
		return LoginResult{}, err
	}

	scope, err := tenancy.ForTenant(req.TenantID)
	if err != nil {
		return LoginResult{}, err
	}

	p, err := s.Store.Principals().GetByEmail(ctx, scope, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		_ = s.Hasher.Verify(req.Password, s.dummyHash)
		l.Info("login failed", slog.String("reason", "unknown_principal"), slog.String("tenant_id", req.TenantID))
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load principal: %w", err)
	}

	if err := s.Hasher.Verify(req.Password, p.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash unusable", slog.String("principal_id", p.ID), slog.Any("error", err))
		}
		l.Info("login failed", slog.String("reason", "bad_password"), slog.String("principal_id", p.ID))
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	if p.MFASecret != nil {
		code := strings.TrimSpace(req.OTPCode)
		if code == "" {
			return LoginResult{}, domain.NewValidationError("otp_code", "is required for this account")
		}
		if !totp.Validate(code, *p.MFASecret) {
			l.Info("login failed", slog.String("reason", "bad_otp"), slog.String("principal_id", p.ID))
			return LoginResult{}, domain.ErrInvalidCredentials
		}
	}

	pair, err := s.Tokens.Issue(ctx, scope, p, domain.DeviceInfo{
		ID:   req.DeviceID,
		Name: req.DeviceName,
		OS:   req.DeviceOS,
	})
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{TokenPair: pair, Principal: p.Summary()}, nil
}

// Logout revokes the caller's device. Absence of a refresh entry is fine.
func (s *AuthService) Logout(ctx context.Context, scope tenancy.Scope) error {
	if err := s.Tokens.Revoke(ctx, scope.PrincipalID(), scope.DeviceID()); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("logged out")
	return nil
}

func normaliseEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && len(s) <= 254 && !strings.ContainsAny(s, " \t\r\n")
}
