package http

import (
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

// AuthHandler serves login, refresh and logout.
type AuthHandler struct {
	Auth   *service.AuthService
	Tokens *service.TokenService
}

// HandleLogin exchanges credentials for a device-bound token pair.
//
//	@Summary		Log in
//	@Description	Verifies email and password (and a TOTP code when MFA is enabled) and issues a token pair bound to the calling device.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		service.LoginRequest	true	"Credentials and device"
//	@Success		200		{object}	service.LoginResult
//	@Failure		401		{object}	httpx.ErrorBody	"Invalid credentials"
//	@Failure		403		{object}	httpx.ErrorBody	"Device limit exceeded"
//	@Failure		422		{object}	httpx.ErrorBody	"Validation failed"
//	@Failure		429		{object}	httpx.ErrorBody	"Rate limited"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	res, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleRefresh rotates a refresh token.
//
//	@Summary		Refresh tokens
//	@Description	Exchanges the current refresh token of a device for a new pair. A refresh token works once.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	domain.TokenPair
//	@Failure		401		{object}	httpx.ErrorBody	"Invalid, rotated or revoked token"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

// HandleLogout revokes the refresh token of the calling device.
//
//	@Summary		Log out
//	@Tags			Auth
//	@Security		BearerAuth
//	@Success		200
//	@Failure		401	{object}	httpx.ErrorBody
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	if err := h.Auth.Logout(r.Context(), scope); err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
