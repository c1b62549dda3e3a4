package domain

import "time"

type PrincipalStatus string

const (
	PrincipalActive    PrincipalStatus = "active"
	PrincipalSuspended PrincipalStatus = "suspended"
	PrincipalInvited   PrincipalStatus = "invited"
)

type Principal struct {
	ID           string
	TenantID     string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	Status       PrincipalStatus
	MFASecret    *string // base32 TOTP secret, nil when MFA is off
	Devices      []Device
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Device is a client install bound to a principal. IDs are UUIDs chosen by
// the agent.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OS        string    `json:"os"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// DeviceInfo is what a client reports about itself at login.
type DeviceInfo struct {
	ID   string
	Name string
	OS   string
}

// PrincipalSummary is the public view returned alongside a token pair.
type PrincipalSummary struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	MFAEnabled  bool   `json:"mfa_enabled"`
}

func (p *Principal) Summary() PrincipalSummary {
	return PrincipalSummary{
		ID:          p.ID,
		TenantID:    p.TenantID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		MFAEnabled:  p.MFASecret != nil,
	}
}
