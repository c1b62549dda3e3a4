package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

// SettingsView is the wire form of domain.TenantSettings, in seconds.
type SettingsView struct {
	ScreenshotIntervalSec int `json:"screenshot_interval_sec"`
	IdleThresholdSec      int `json:"idle_threshold_sec"`
	DeviceCap             int `json:"device_cap"`
	RetentionDays         int `json:"retention_days"`
}

func (v SettingsView) settings() domain.TenantSettings {
	return domain.TenantSettings{
		ScreenshotInterval: time.Duration(v.ScreenshotIntervalSec) * time.Second,
		IdleThreshold:      time.Duration(v.IdleThresholdSec) * time.Second,
		DeviceCap:          v.DeviceCap,
		RetentionDays:      v.RetentionDays,
	}
}

type TenantView struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Subscription domain.SubscriptionStatus `json:"subscription"`
	Settings     SettingsView              `json:"settings"`
}

func tenantView(t domain.Tenant) TenantView {
	return TenantView{
		ID:           t.ID,
		Name:         t.Name,
		Subscription: t.Subscription,
		Settings: SettingsView{
			ScreenshotIntervalSec: int(t.Settings.ScreenshotInterval.Seconds()),
			IdleThresholdSec:      int(t.Settings.IdleThreshold.Seconds()),
			DeviceCap:             t.Settings.DeviceCap,
			RetentionDays:         t.Settings.RetentionDays,
		},
	}
}

// TenantService exposes the caller's tenant and its settings bag.
type TenantService struct {
	Store store.Store
}

func (s *TenantService) Get(ctx context.Context, scope tenancy.Scope) (TenantView, error) {
	t, err := s.Store.Tenants().Get(ctx, scope)
	if err != nil {
		return TenantView{}, mapStoreErr(err)
	}
	return tenantView(t), nil
}

// UpdateSettings replaces the settings bag. Lowering the device cap never
// unbinds devices; it only blocks new ones.
func (s *TenantService) UpdateSettings(ctx context.Context, scope tenancy.Scope, v SettingsView) (TenantView, error) {
	if scope.Role() != domain.RoleTenantAdmin {
		return TenantView{}, domain.ErrInsufficientPermissions
	}
	settings := v.settings()
	if err := settings.Validate(); err != nil {
		return TenantView{}, err
	}
	if err := s.Store.Tenants().UpdateSettings(ctx, scope, settings); err != nil {
		return TenantView{}, mapStoreErr(err)
	}
	slogx.FromContext(ctx).Info("tenant settings updated",
		slog.Int("device_cap", settings.DeviceCap),
		slog.Int("retention_days", settings.RetentionDays),
	)
	return s.Get(ctx, scope)
}
