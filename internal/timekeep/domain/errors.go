package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidToken            = errors.New("invalid token")
	ErrDeviceMismatch          = errors.New("device mismatch")
	ErrDeviceLimitExceeded     = errors.New("device limit exceeded")
	ErrMissingTenantContext    = errors.New("missing tenant context")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrConflictingSession      = errors.New("conflicting session")
	ErrInvalidSessionState     = errors.New("invalid session state")
	ErrRateLimited             = errors.New("rate limited")
	ErrValidationFailed        = errors.New("validation failed")
	ErrSubscriptionInactive    = errors.New("subscription inactive")
	ErrNotFound                = errors.New("not found")
)

// ValidationError lists per-field problems. It matches ErrValidationFailed.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: problem}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("validation failed")
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(k + " " + e.Fields[k])
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
