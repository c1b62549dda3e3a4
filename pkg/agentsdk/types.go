package agentsdk

import (
	"encoding/json"
	"time"
)

// Credentials identify the principal logging in. DeviceID, DeviceName and
// DeviceOS are filled from the Client when empty.
type Credentials struct {
	TenantID   string `json:"tenant_id"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	DeviceOS   string `json:"device_os,omitempty"`
	OTPCode    string `json:"otp_code,omitempty"`
}

type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

type Principal struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	MFAEnabled  bool   `json:"mfa_enabled"`
}

type loginResponse struct {
	TokenPair
	Principal Principal `json:"principal"`
}

// Session states.
const (
	StateActive     = "active"
	StatePaused     = "paused"
	StateEnded      = "ended"
	StateForceEnded = "force_ended"
)

// Idle event types accepted by ReportIdle.
const (
	IdleStart = "idle_start"
	IdleEnd   = "idle_end"
)

// WorkSession is one tracked stretch of work on a device.
type WorkSession struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	PrincipalID string         `json:"principal_id"`
	DeviceID    string         `json:"device_id"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	State       string         `json:"state"`
	Events      []SessionEvent `json:"events,omitempty"`
	Summary     *Summary       `json:"summary,omitempty"`
}

type SessionEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Summary is the client-computed rollup sent when a session ends.
type Summary struct {
	ActiveSeconds   int64   `json:"active_seconds"`
	IdleSeconds     int64   `json:"idle_seconds"`
	PausedSeconds   int64   `json:"paused_seconds"`
	TotalDuration   int64   `json:"total_duration"`
	ScreenshotCount int     `json:"screenshot_count"`
	ActivityScore   float64 `json:"activity_score"`
}

type BootstrapRequest struct {
	TenantName       string `json:"tenant_name"`
	AdminEmail       string `json:"admin_email"`
	AdminDisplayName string `json:"admin_display_name"`
	AdminPassword    string `json:"admin_password"`
}

type BootstrapResult struct {
	TenantID    string `json:"tenant_id"`
	PrincipalID string `json:"principal_id"`
}

type Health struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// Realtime event names.
const (
	EventConnected          = "connected"
	EventPong               = "pong"
	EventError              = "error"
	EventSessionState       = "session:state"
	EventSessionForceEnd    = "session:force_end"
	EventPrincipalSuspended = "principal:suspended"
)

// Event is one server message from the realtime channel.
type Event struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// ForceEnd is the payload of EventSessionForceEnd.
type ForceEnd struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	By        string `json:"by"`
}
