package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

type SessionState string

const (
	SessionActive     SessionState = "active"
	SessionPaused     SessionState = "paused"
	SessionEnded      SessionState = "ended"
	SessionForceEnded SessionState = "force_ended"
)

// OpenStates are the non-terminal states. A principal holds at most one
// session in these.
var OpenStates = []SessionState{SessionActive, SessionPaused}

func (s SessionState) Terminal() bool {
	return s == SessionEnded || s == SessionForceEnded
}

func (s SessionState) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionEnded, SessionForceEnded:
		return true
	}
	return false
}

type EventType string

const (
	EventStart     EventType = "start"
	EventPause     EventType = "pause"
	EventResume    EventType = "resume"
	EventEnd       EventType = "end"
	EventForceEnd  EventType = "force_end"
	EventIdleStart EventType = "idle_start"
	EventIdleEnd   EventType = "idle_end"
)

type Session struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	PrincipalID string          `json:"principal_id"`
	DeviceID    string          `json:"device_id"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	State       SessionState    `json:"state"`
	Events      []SessionEvent  `json:"events,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty" swaggertype:"object"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type SessionEvent struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionSummary is the part of an agent summary the service checks. The
// summary itself is stored as the agent sent it, unknown fields included.
type SessionSummary struct {
	ActiveSeconds   int64   `json:"active_seconds"`
	IdleSeconds     int64   `json:"idle_seconds"`
	PausedSeconds   int64   `json:"paused_seconds"`
	TotalDuration   int64   `json:"total_duration"`
	ScreenshotCount int     `json:"screenshot_count"`
	ActivityScore   float64 `json:"activity_score"`
}

// Validate rejects summaries no agent could produce.
func (s SessionSummary) Validate() error {
	fields := map[string]string{}
	if s.ActiveSeconds < 0 {
		fields["active_seconds"] = "must not be negative"
	}
	if s.IdleSeconds < 0 {
		fields["idle_seconds"] = "must not be negative"
	}
	if s.PausedSeconds < 0 {
		fields["paused_seconds"] = "must not be negative"
	}
	if s.TotalDuration < 0 {
		fields["total_duration"] = "must not be negative"
	}
	if s.ScreenshotCount < 0 {
		fields["screenshot_count"] = "must not be negative"
	}
	if s.ActivityScore < 0 || s.ActivityScore > 100 {
		fields["activity_score"] = "must be between 0 and 100"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ParseSummary checks that raw is a JSON object whose known fields are
// valid. Fields it does not know are left alone.
func ParseSummary(raw json.RawMessage) (SessionSummary, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return SessionSummary{}, NewValidationError("summary", "is required")
	}
	if trimmed[0] != '{' {
		return SessionSummary{}, NewValidationError("summary", "must be a JSON object")
	}

	var s SessionSummary
	if err := json.Unmarshal(trimmed, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return SessionSummary{}, NewValidationError(typeErr.Field, "must be a number")
		}
		return SessionSummary{}, NewValidationError("summary", "is not valid JSON")
	}
	return s, s.Validate()
}
