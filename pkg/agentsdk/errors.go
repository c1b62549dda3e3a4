package agentsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Error codes returned by the service.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeValidationFailed        = "validation_failed"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeInvalidToken            = "invalid_token"
	CodeDeviceMismatch          = "device_mismatch"
	CodeDeviceLimitExceeded     = "device_limit_exceeded"
	CodeMissingTenantContext    = "missing_tenant_context"
	CodeInsufficientPermissions = "insufficient_permissions"
	CodeSubscriptionInactive    = "subscription_inactive"
	CodeConflictingSession      = "conflicting_session"
	CodeInvalidSessionState     = "invalid_session_state"
	CodeNotFound                = "not_found"
	CodeRateLimited             = "rate_limited"
	CodeServerError             = "server_error"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode  int               `json:"-"`
	Code        string            `json:"error"`
	Description string            `json:"error_description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`

	// RetryAfter is set from the Retry-After header on 429 responses.
	RetryAfter int `json:"-"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Description)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// parseErrorResponse builds an *APIError from a response body. Bodies that
// are not JSON still produce an error carrying the status code.
func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = CodeInvalidRequest
		if resp.StatusCode >= http.StatusInternalServerError {
			apiErr.Code = CodeServerError
		}
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			apiErr.RetryAfter = secs
		}
	}
	return apiErr
}
