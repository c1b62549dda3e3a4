package http

import (
	"encoding/json"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
)

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
	Cache    string `json:"cache"`
	Signer   string `json:"signer"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// EndSessionRequest carries the agent's summary. Only known fields are
// checked; the object is stored as sent.
type EndSessionRequest struct {
	Summary json.RawMessage `json:"summary" swaggertype:"object"`
}

type ForceEndRequest struct {
	Reason string `json:"reason"`
}

type IdleRequest struct {
	Type     domain.EventType `json:"type"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

type ChangeRoleRequest struct {
	Role domain.Role `json:"role"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type SessionList struct {
	Sessions []domain.Session `json:"sessions"`
}

// SubscriptionRequest is sent by the billing integration.
type SubscriptionRequest struct {
	Status string `json:"status"`
}

type BootstrapStatus struct {
	Bootstrapped bool `json:"bootstrapped"`
}
