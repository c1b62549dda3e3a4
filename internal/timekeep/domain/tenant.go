package domain

import (
	"fmt"
	"time"
)

const DefaultDeviceCap = 3

type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(s); st {
	case SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
}

// AllowsTracking reports whether new sessions may start. Past-due tenants
// keep working through the grace period; billing decides when to cancel.
func (s SubscriptionStatus) AllowsTracking() bool {
	return s != SubscriptionCanceled
}

type Tenant struct {
	ID           string
	Name         string
	Settings     TenantSettings
	Subscription SubscriptionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TenantSettings struct {
	ScreenshotInterval time.Duration `json:"screenshot_interval"`
	IdleThreshold      time.Duration `json:"idle_threshold"`
	DeviceCap          int           `json:"device_cap"`

	// RetentionDays is how long terminal sessions are kept. Zero keeps them forever.
	RetentionDays int `json:"retention_days"`
}

func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		ScreenshotInterval: 10 * time.Minute,
		IdleThreshold:      5 * time.Minute,
		DeviceCap:          DefaultDeviceCap,
		RetentionDays:      365,
	}
}

// Validate bounds the settings an admin may choose.
func (s TenantSettings) Validate() error {
	fields := map[string]string{}
	if s.ScreenshotInterval < time.Minute {
		fields["screenshot_interval"] = "must be at least one minute"
	}
	if s.IdleThreshold < time.Minute {
		fields["idle_threshold"] = "must be at least one minute"
	}
	if s.DeviceCap < 1 || s.DeviceCap > 10 {
		fields["device_cap"] = "must be between 1 and 10"
	}
	if s.RetentionDays < 0 {
		fields["retention_days"] = "must not be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
