package service

import (
	"context"
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

// MinPasswordLength applies to every password set through the API.
const MinPasswordLength = 10

// PrincipalDetail is the admin view of a principal.
type PrincipalDetail struct {
	domain.PrincipalSummary
	Status  domain.PrincipalStatus `json:"status"`
	Devices []domain.Device        `json:"devices"`
}

func detailOf(p domain.Principal) PrincipalDetail {
	devices := p.Devices
	if devices == nil {
		devices = []domain.Device{}
	}
	return PrincipalDetail{PrincipalSummary: p.Summary(), Status: p.Status, Devices: devices}
}

type CreatePrincipalRequest struct {
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Password    string      `json:"password"`
	Role        domain.Role `json:"role"`
}

func (r *CreatePrincipalRequest) Validate() error {
	fields := map[string]string{}

	r.Email = normaliseEmail(r.Email)
	if !validEmail(r.Email) {
		fields["email"] = "must be an email address"
	}
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.DisplayName == "" {
		r.DisplayName = r.Email
	}
	if len(r.Password) < MinPasswordLength {
		fields["password"] = fmt.Sprintf("must be at least %d characters", MinPasswordLength)
	}
	if r.Role == "" {
		r.Role = domain.RoleMember
	}
	if _, err := domain.ParseRole(string(r.Role)); err != nil {
		fields["role"] = "must be tenant_admin, sub_admin or member"
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// PrincipalService administers the principals of one tenant.
type PrincipalService struct {
	Store    store.Store
	Tokens   *TokenService
	Hasher   *cryptox.PasswordHasher
	Notifier Notifier
	Clock    clockwork.Clock
}

// Me returns the caller's own record.
func (s *PrincipalService) Me(ctx context.Context, scope tenancy.Scope) (PrincipalDetail, error) {
	p, err := s.Store.Principals().Get(ctx, scope, scope.PrincipalID())
	if err != nil {
		return PrincipalDetail{}, mapStoreErr(err)
	}
	return detailOf(p), nil
}

// Create adds a principal to the caller's tenant. Only a tenant admin may
// create another admin.
func (s *PrincipalService) Create(ctx context.Context, scope tenancy.Scope, req CreatePrincipalRequest) (PrincipalDetail, error) {
	if !scope.IsAdmin() {
		return PrincipalDetail{}, domain.ErrInsufficientPermissions
	}
	if err := req.Validate(); err != nil {
		return PrincipalDetail{}, err
	}
	if req.Role.IsAdmin() && scope.Role() != domain.RoleTenantAdmin {
		return PrincipalDetail{}, domain.ErrInsufficientPermissions
	}

	tid, err := scope.TenantID()
	if err != nil {
		return PrincipalDetail{}, err
	}
	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return PrincipalDetail{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.Clock.Now().UTC()
	p := domain.Principal{
		ID:           idx.NewAt(now),
		TenantID:     tid,
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       domain.PrincipalActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Principals().Create(ctx, scope, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return PrincipalDetail{}, domain.NewValidationError("email", "is already registered")
		}
		return PrincipalDetail{}, err
	}

	slogx.FromContext(ctx).Info("principal created",
		slog.String("new_principal_id", p.ID),
		slog.String("new_role", string(p.Role)),
	)
	return detailOf(p), nil
}

func (s *PrincipalService) List(ctx context.Context, scope tenancy.Scope) ([]PrincipalDetail, error) {
	if !scope.IsAdmin() {
		return nil, domain.ErrInsufficientPermissions
	}
	ps, err := s.Store.Principals().List(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]PrincipalDetail, len(ps))
	for i, p := range ps {
		out[i] = detailOf(p)
	}
	return out, nil
}

// ChangeRole is reserved to tenant admins, who cannot demote themselves.
func (s *PrincipalService) ChangeRole(ctx context.Context, scope tenancy.Scope, id string, role domain.Role) (PrincipalDetail, error) {
	if scope.Role() != domain.RoleTenantAdmin {
		return PrincipalDetail{}, domain.ErrInsufficientPermissions
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return PrincipalDetail{}, domain.NewValidationError("role", "must be tenant_admin, sub_admin or member")
	}
	if id == scope.PrincipalID() {
		return PrincipalDetail{}, domain.NewValidationError("id", "cannot change your own role")
	}

	if err := s.Store.Principals().UpdateRole(ctx, scope, id, role); err != nil {
		return PrincipalDetail{}, mapStoreErr(err)
	}
	slogx.FromContext(ctx).Info("principal role changed",
		slog.String("target_principal_id", id),
		slog.String("new_role", string(role)),
	)
	return s.get(ctx, scope, id)
}

// Suspend blocks a principal: every device's refresh token is revoked and
// connected clients are told. Access tokens already issued run out on
// their own.
func (s *PrincipalService) Suspend(ctx context.Context, scope tenancy.Scope, id string) (PrincipalDetail, error) {
	target, err := s.manageable(ctx, scope, id)
	if err != nil {
		return PrincipalDetail{}, err
	}

	if err := s.Store.Principals().UpdateStatus(ctx, scope, id, domain.PrincipalSuspended); err != nil {
		return PrincipalDetail{}, mapStoreErr(err)
	}
	if err := s.Tokens.RevokeAll(ctx, scope, id); err != nil {
		return PrincipalDetail{}, err
	}

	notifierOrNop(s.Notifier).NotifyPrincipal(target.TenantID, id, EventPrincipalSuspended, map[string]string{
		"principal_id": id,
	})
	slogx.FromContext(ctx).Info("principal suspended", slog.String("target_principal_id", id))
	return s.get(ctx, scope, id)
}

func (s *PrincipalService) Reactivate(ctx context.Context, scope tenancy.Scope, id string) (PrincipalDetail, error) {
	if _, err := s.manageable(ctx, scope, id); err != nil {
		return PrincipalDetail{}, err
	}
	if err := s.Store.Principals().UpdateStatus(ctx, scope, id, domain.PrincipalActive); err != nil {
		return PrincipalDetail{}, mapStoreErr(err)
	}
	slogx.FromContext(ctx).Info("principal reactivated", slog.String("target_principal_id", id))
	return s.get(ctx, scope, id)
}

func (s *PrincipalService) ListDevices(ctx context.Context, scope tenancy.Scope, id string) ([]domain.Device, error) {
	p, err := s.visible(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if p.Devices == nil {
		return []domain.Device{}, nil
	}
	return p.Devices, nil
}

// RemoveDevice unbinds a device, freeing a slot under the cap, and revokes
// its refresh token.
func (s *PrincipalService) RemoveDevice(ctx context.Context, scope tenancy.Scope, id, deviceID string) error {
	if _, err := s.visible(ctx, scope, id); err != nil {
		return err
	}
	deviceID, err := idx.ParseDevice(deviceID)
	if err != nil {
		return domain.ErrNotFound
	}

	if err := s.Store.Principals().RemoveDevice(ctx, scope, id, deviceID); err != nil {
		return mapStoreErr(err)
	}
	if err := s.Tokens.Revoke(ctx, id, deviceID); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("device removed",
		slog.String("target_principal_id", id),
		slog.String("removed_device_id", deviceID),
	)
	return nil
}

func (s *PrincipalService) get(ctx context.Context, scope tenancy.Scope, id string) (PrincipalDetail, error) {
	p, err := s.Store.Principals().Get(ctx, scope, id)
	if err != nil {
		return PrincipalDetail{}, mapStoreErr(err)
	}
	return detailOf(p), nil
}

// visible loads id if the caller may see it: admins see the tenant,
// members only themselves.
func (s *PrincipalService) visible(ctx context.Context, scope tenancy.Scope, id string) (domain.Principal, error) {
	if !scope.IsAdmin() && id != scope.PrincipalID() {
		return domain.Principal{}, domain.ErrInsufficientPermissions
	}
	p, err := s.Store.Principals().Get(ctx, scope, id)
	if err != nil {
		return domain.Principal{}, mapStoreErr(err)
	}
	return p, nil
}

// manageable loads id if the caller may change its status. Nobody acts on
// themselves and sub admins cannot touch tenant admins.
func (s *PrincipalService) manageable(ctx context.Context, scope tenancy.Scope, id string) (domain.Principal, error) {
	if !scope.IsAdmin() {
		return domain.Principal{}, domain.ErrInsufficientPermissions
	}
	if id == scope.PrincipalID() {
		return domain.Principal{}, domain.NewValidationError("id", "cannot change your own status")
	}
	p, err := s.Store.Principals().Get(ctx, scope, id)
	if err != nil {
		return domain.Principal{}, mapStoreErr(err)
	}
	if p.Role == domain.RoleTenantAdmin && scope.Role() != domain.RoleTenantAdmin {
		return domain.Principal{}, domain.ErrInsufficientPermissions
	}
	return p, nil
}
