package http

import (
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

// MFAHandler manages the caller's TOTP second factor.
type MFAHandler struct {
	MFA *service.MFAService
}

// HandleEnroll starts a TOTP enrolment.
//
//	@Summary		Enroll TOTP
//	@Description	Returns a fresh secret and otpauth URL. MFA is enabled once a code is confirmed.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	service.MFAEnrollment
//	@Failure		409	{object}	httpx.ErrorBody	"Already enabled"
//	@Router			/v1/mfa/totp/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	enr, err := h.MFA.Enroll(r.Context(), scope)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, enr)
}

// HandleConfirm enables MFA with a code from the pending secret.
//
//	@Summary	Confirm TOTP
//	@Tags		MFA
//	@Security	BearerAuth
//	@Accept		json
//	@Param		request	body	CodeRequest	true	"TOTP code"
//	@Success	200
//	@Failure	401	{object}	httpx.ErrorBody	"Wrong code"
//	@Router		/v1/mfa/totp/verify [post].
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req CodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.MFA.Confirm(r.Context(), scope, req.Code); err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"mfa_enabled": true})
}

// HandleDisable removes the second factor after checking a current code.
//
//	@Summary	Disable TOTP
//	@Tags		MFA
//	@Security	BearerAuth
//	@Accept		json
//	@Param		request	body	CodeRequest	true	"TOTP code"
//	@Success	200
//	@Failure	409	{object}	httpx.ErrorBody	"Not enabled"
//	@Router		/v1/mfa/totp [delete].
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req CodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.MFA.Disable(r.Context(), scope, req.Code); err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"mfa_enabled": false})
}
