// Package service holds the use cases behind the HTTP surface: token
// issuance and rotation, login, the work session state machine and
// principal administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/metrics"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

// RefreshKey is the rotation cache key for one device of one principal.
func RefreshKey(principalID, deviceID string) string {
	return "refresh:" + principalID + ":" + deviceID
}

// TokenService mints device-bound token pairs and rotates refresh tokens.
// The rotation cache holds the fingerprint of the only refresh token still
// honoured for each (principal, device).
type TokenService struct {
	Keys       *jwtx.KeyManager
	Store      store.Store
	Cache      cache.Cache
	Clock      clockwork.Clock
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Issue binds dev to p (subject to the tenant's device cap) and returns a
// fresh pair, invalidating any earlier refresh token for that device.
func (s *TokenService) Issue(ctx context.Context, scope tenancy.Scope, p domain.Principal, dev domain.DeviceInfo) (domain.TokenPair, error) {
	return s.issue(ctx, scope, p, dev, "login")
}

func (s *TokenService) issue(ctx context.Context, scope tenancy.Scope, p domain.Principal, dev domain.DeviceInfo, grant string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	if p.Status != domain.PrincipalActive {
		l.Info("token issue refused for inactive principal",
			slog.String("principal_id", p.ID),
			slog.String("status", string(p.Status)),
		)
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	deviceID, err := idx.ParseDevice(dev.ID)
	if err != nil {
		return domain.TokenPair{}, domain.NewValidationError("device_id", "must be a UUID")
	}
	dev.ID = deviceID

	tenant, err := s.Store.Tenants().Get(ctx, scope)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("load tenant: %w", err)
	}
	limit := tenant.Settings.DeviceCap
	if limit <= 0 {
		limit = domain.DefaultDeviceCap
	}

	now := s.Clock.Now()
	if _, err := s.Store.Principals().BindDevice(ctx, scope, p.ID, dev, limit, now); err != nil {
		if errors.Is(err, store.ErrDeviceLimit) {
			l.Info("device cap reached",
				slog.String("principal_id", p.ID),
				slog.String("device_id", dev.ID),
				slog.Int("cap", limit),
			)
			return domain.TokenPair{}, domain.ErrDeviceLimitExceeded
		}
		return domain.TokenPair{}, fmt.Errorf("bind device: %w", err)
	}

	id := jwtx.Identity{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        string(p.Role),
		DeviceID:    dev.ID,
	}

	access, err := s.Keys.Sign(s.Keys.NewClaims(id, jwtx.TokenUseAccess, now, s.AccessTTL))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.Keys.Sign(s.Keys.NewClaims(id, jwtx.TokenUseRefresh, now, s.RefreshTTL))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	// Overwrite: the previous refresh token for this device stops working.
	if err := s.Cache.Set(ctx, RefreshKey(p.ID, dev.ID), cryptox.FingerprintToken(refresh), s.RefreshTTL); err != nil {
		return domain.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	s.Metrics.TokenIssued(grant)
	l.Info("token pair issued",
		slog.String("grant", grant),
		slog.String("principal_id", p.ID),
		slog.String("tenant_id", p.TenantID),
		slog.String("device_id", dev.ID),
	)

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.AccessTTL.Seconds()),
		RefreshExpiresIn: int(s.RefreshTTL.Seconds()),
	}, nil
}

// Refresh exchanges the current refresh token of a device for a new pair.
// A token that was already rotated or revoked fails with ErrInvalidToken.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	claims, err := s.Keys.Verify(refreshToken, jwtx.TokenUseRefresh)
	if err != nil {
		s.reject(l, jwtx.TokenUseRefresh, err)
		return domain.TokenPair{}, domain.ErrInvalidToken
	}

	stored, err := s.Cache.Get(ctx, RefreshKey(claims.Subject, claims.DeviceID))
	if errors.Is(err, cache.ErrMiss) {
		s.reject(l, jwtx.TokenUseRefresh, errRevoked)
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}
	if !cryptox.EqualFingerprints(stored, cryptox.FingerprintToken(refreshToken)) {
		s.reject(l, jwtx.TokenUseRefresh, errRotated)
		return domain.TokenPair{}, domain.ErrInvalidToken
	}

	scope, err := tenancy.ForTenant(claims.TenantID)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	p, err := s.Store.Principals().Get(ctx, scope, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		l.Warn("refresh for unknown principal", slog.String("principal_id", claims.Subject))
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("load principal: %w", err)
	}

	pair, err := s.issue(ctx, scope, p, domain.DeviceInfo{ID: claims.DeviceID}, "refresh")
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	return pair, err
}

// VerifyAccess validates an access token. Every failure is ErrInvalidToken;
// the precise cause is only logged.
func (s *TokenService) VerifyAccess(token string) (jwtx.Claims, error) {
	claims, err := s.Keys.Verify(token, jwtx.TokenUseAccess)
	if err != nil {
		s.reject(s.logger(), jwtx.TokenUseAccess, err)
		return jwtx.Claims{}, domain.ErrInvalidToken
	}
	return claims, nil
}

// Revoke drops the refresh token of one device. It is idempotent and does
// not touch access tokens already handed out.
func (s *TokenService) Revoke(ctx context.Context, principalID, deviceID string) error {
	if err := s.Cache.Delete(ctx, RefreshKey(principalID, deviceID)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll drops the refresh tokens of every device bound to principalID.
func (s *TokenService) RevokeAll(ctx context.Context, scope tenancy.Scope, principalID string) error {
	devices, err := s.Store.Principals().ListDevices(ctx, scope, principalID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}
	keys := make([]string, len(devices))
	for i, d := range devices {
		keys[i] = RefreshKey(principalID, d.ID)
	}
	if err := s.Cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

var (
	errRevoked = errors.New("refresh token revoked or expired from cache")
	errRotated = errors.New("refresh token already rotated")
)

func (s *TokenService) reject(l *slog.Logger, use jwtx.TokenUse, cause error) {
	reason := rejectReason(cause)
	s.Metrics.TokenRejected(string(use), reason)
	l.Warn("token rejected",
		slog.String("use", string(use)),
		slog.String("reason", reason),
		slog.Any("error", cause),
	)
}

func (s *TokenService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return "expired"
	case errors.Is(err, jwtx.ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, jwtx.ErrInvalidSig):
		return "signature"
	case errors.Is(err, jwtx.ErrUnknownKID):
		return "unknown_kid"
	case errors.Is(err, jwtx.ErrIssuer):
		return "issuer"
	case errors.Is(err, jwtx.ErrAudience):
		return "audience"
	case errors.Is(err, jwtx.ErrWrongUse):
		return "wrong_use"
	case errors.Is(err, errRotated):
		return "rotated"
	case errors.Is(err, errRevoked):
		return "revoked"
	default:
		return "malformed"
	}
}
