package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

var (
	ErrBootstrapAlready      = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized = errors.New("unauthorized bootstrap attempt")
)

type BootstrapRequest struct {
	TenantName       string `json:"tenant_name"`
	AdminEmail       string `json:"admin_email"`
	AdminDisplayName string `json:"admin_display_name"`
	AdminPassword    string `json:"admin_password"`
}

func (r *BootstrapRequest) Validate() error {
	fields := map[string]string{}

	r.TenantName = strings.TrimSpace(r.TenantName)
	if r.TenantName == "" {
		fields["tenant_name"] = "is required"
	}
	r.AdminEmail = normaliseEmail(r.AdminEmail)
	if !validEmail(r.AdminEmail) {
		fields["admin_email"] = "must be an email address"
	}
	r.AdminDisplayName = strings.TrimSpace(r.AdminDisplayName)
	if r.AdminDisplayName == "" {
		r.AdminDisplayName = r.AdminEmail
	}
	if len(r.AdminPassword) < MinPasswordLength {
		fields["admin_password"] = fmt.Sprintf("must be at least %d characters", MinPasswordLength)
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

type BootstrapResult struct {
	TenantID    string `json:"tenant_id"`
	PrincipalID string `json:"principal_id"`
}

// BootstrapService creates the first tenant and its tenant admin. It only
// works while the store holds no tenants and a token is configured.
type BootstrapService struct {
	Store  store.Store
	Hasher *cryptox.PasswordHasher
	Clock  clockwork.Clock
	Token  string
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.Tenants().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

func (s *BootstrapService) Bootstrap(ctx context.Context, token string, req BootstrapRequest) (BootstrapResult, error) {
	l := slogx.FromContext(ctx)

	if !s.tokenMatches(token) {
		l.Warn("unauthorized bootstrap attempt")
		return BootstrapResult{}, ErrBootstrapUnauthorized
	}

	done, err := s.IsBootstrapped(ctx)
	if err != nil {
		return BootstrapResult{}, err
	}
	if done {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return BootstrapResult{}, ErrBootstrapAlready
	}

	if err := req.Validate(); err != nil {
		return BootstrapResult{}, err
	}

	hash, err := s.Hasher.Hash(req.AdminPassword)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("hash admin password: %w", err)
	}

	now := s.Clock.Now().UTC()
	tenant := domain.Tenant{
		ID:           idx.NewAt(now),
		Name:         req.TenantName,
		Settings:     domain.DefaultTenantSettings(),
		Subscription: domain.SubscriptionTrialing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	admin := domain.Principal{
		ID:           idx.NewAt(now),
		TenantID:     tenant.ID,
		Email:        req.AdminEmail,
		DisplayName:  req.AdminDisplayName,
		PasswordHash: hash,
		Role:         domain.RoleTenantAdmin,
		Status:       domain.PrincipalActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	scope, err := tenancy.ForTenant(tenant.ID)
	if err != nil {
		return BootstrapResult{}, err
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Tenants().Create(ctx, scope, tenant); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		if err := tx.Principals().Create(ctx, scope, admin); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return BootstrapResult{}, err
	}

	l.Info("system bootstrapped",
		slog.String("tenant_id", tenant.ID),
		slog.String("admin_principal_id", admin.ID),
	)
	return BootstrapResult{TenantID: tenant.ID, PrincipalID: admin.ID}, nil
}

// SetSubscription records a tenant's billing status. Billing runs outside
// this service and reports changes with the operator (bootstrap) token.
func (s *BootstrapService) SetSubscription(ctx context.Context, token, tenantID, status string) error {
	l := slogx.FromContext(ctx)

	if !s.tokenMatches(token) {
		l.Warn("unauthorized subscription update", slog.String("tenant_id", tenantID))
		return ErrBootstrapUnauthorized
	}

	st, err := domain.ParseSubscriptionStatus(status)
	if err != nil {
		return domain.NewValidationError("status", "must be one of trialing, active, past_due, canceled")
	}
	scope, err := tenancy.ForTenant(tenantID)
	if err != nil {
		return domain.ErrNotFound
	}

	if err := s.Store.Tenants().UpdateSubscription(ctx, scope, st); err != nil {
		return fmt.Errorf("update subscription: %w", mapStoreErr(err))
	}

	l.Info("subscription updated",
		slog.String("tenant_id", tenantID),
		slog.String("status", string(st)),
	)
	return nil
}

func (s *BootstrapService) tokenMatches(token string) bool {
	return s.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) == 1
}
