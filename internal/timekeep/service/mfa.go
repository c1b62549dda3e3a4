package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

// PendingMFATTL bounds how long an enrolment waits for its first code.
const PendingMFATTL = 10 * time.Minute

var (
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	ErrMFANotEnabled     = errors.New("mfa not enabled")
)

type MFAEnrollment struct {
	Secret    string `json:"secret"`
	URL       string `json:"otpauth_url"`
	ExpiresIn int    `json:"expires_in"`
}

// MFAService manages TOTP second factors. An enrolment is held in the cache
// until the principal proves possession with a valid code.
type MFAService struct {
	Store  store.Store
	Cache  cache.Cache
	Issuer string
}

func pendingMFAKey(principalID string) string { return "mfa:pending:" + principalID }

func (s *MFAService) Enroll(ctx context.Context, scope tenancy.Scope) (MFAEnrollment, error) {
	p, err := s.Store.Principals().Get(ctx, scope, scope.PrincipalID())
	if err != nil {
		return MFAEnrollment{}, mapStoreErr(err)
	}
	if p.MFASecret != nil {
		return MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: p.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return MFAEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}

	if err := s.Cache.Set(ctx, pendingMFAKey(p.ID), key.Secret(), PendingMFATTL); err != nil {
		return MFAEnrollment{}, fmt.Errorf("store pending mfa: %w", err)
	}

	return MFAEnrollment{
		Secret:    key.Secret(),
		URL:       key.URL(),
		ExpiresIn: int(PendingMFATTL.Seconds()),
	}, nil
}

// Confirm enables MFA once code matches the pending secret.
func (s *MFAService) Confirm(ctx context.Context, scope tenancy.Scope, code string) error {
	key := pendingMFAKey(scope.PrincipalID())
	secret, err := s.Cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return domain.NewValidationError("code", "no enrolment in progress")
	}
	if err != nil {
		return err
	}

	if !totp.Validate(strings.TrimSpace(code), secret) {
		return domain.NewValidationError("code", "is not valid")
	}

	if err := s.Store.Principals().SetMFASecret(ctx, scope, scope.PrincipalID(), &secret); err != nil {
		return mapStoreErr(err)
	}
	_ = s.Cache.Delete(ctx, key)

	slogx.FromContext(ctx).Info("mfa enabled")
	return nil
}

// Disable removes MFA after checking a current code.
func (s *MFAService) Disable(ctx context.Context, scope tenancy.Scope, code string) error {
	p, err := s.Store.Principals().Get(ctx, scope, scope.PrincipalID())
	if err != nil {
		return mapStoreErr(err)
	}
	if p.MFASecret == nil {
		return ErrMFANotEnabled
	}
	if !totp.Validate(strings.TrimSpace(code), *p.MFASecret) {
		return domain.NewValidationError("code", "is not valid")
	}

	if err := s.Store.Principals().SetMFASecret(ctx, scope, p.ID, nil); err != nil {
		return mapStoreErr(err)
	}
	slogx.FromContext(ctx).Info("mfa disabled")
	return nil
}
