package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

type errorMapping struct {
	target error
	status int
	code   string
	desc   string
}

// errorTable maps the error taxonomy onto responses. Order matters only
// where one sentinel could wrap another.
var errorTable = []errorMapping{
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password."},
	{domain.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired."},
	{domain.ErrDeviceMismatch, http.StatusForbidden, "device_mismatch", "The token is bound to a different device."},
	{domain.ErrDeviceLimitExceeded, http.StatusForbidden, "device_limit_exceeded", "The maximum number of devices is already registered."},
	{domain.ErrMissingTenantContext, http.StatusForbidden, "missing_tenant_context", "The request carries no tenant."},
	{domain.ErrInsufficientPermissions, http.StatusForbidden, "insufficient_permissions", "Your role does not allow this action."},
	{domain.ErrSubscriptionInactive, http.StatusForbidden, "subscription_inactive", "The tenant subscription is not active."},
	{domain.ErrConflictingSession, http.StatusConflict, "conflicting_session", "Another session is already open."},
	{domain.ErrInvalidSessionState, http.StatusNotFound, "invalid_session_state", "No session in a state that allows this transition."},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", "The resource does not exist."},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later."},
	{service.ErrBootstrapAlready, http.StatusConflict, "already_bootstrapped", "The system is already bootstrapped."},
	{service.ErrBootstrapUnauthorized, http.StatusUnauthorized, "unauthorized", "Missing or invalid bootstrap token."},
	{service.ErrMFAAlreadyEnabled, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled."},
	{service.ErrMFANotEnabled, http.StatusConflict, "mfa_not_enabled", "MFA is not enabled."},
}

// WriteError renders err as the JSON error body. Validation errors carry
// their field details; anything unmapped is logged and becomes a 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, httpx.ErrorBody{
			Error:       "validation_failed",
			Description: "One or more fields are invalid.",
			Fields:      verr.Fields,
		})
		return
	}
	if errors.Is(err, domain.ErrValidationFailed) {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	for _, m := range errorTable {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.target == domain.ErrInvalidToken {
			httpx.WriteBearerError(w)
			return
		}
		httpx.WriteError(w, m.status, m.code, m.desc)
		return
	}

	slogx.FromContext(r.Context()).Error("unhandled error", "error", err)
	httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
}

// badRequest answers a body that could not be decoded at all. Malformed
// input is a validation failure like any other.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err))
}
