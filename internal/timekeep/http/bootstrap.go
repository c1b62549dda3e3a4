package http

import (
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

// BootstrapTokenHeader carries the one-time setup secret.
const BootstrapTokenHeader = "X-Bootstrap-Token"

type BootstrapHandler struct {
	Bootstrap *service.BootstrapService
}

// HandleBootstrap creates the first tenant and its tenant admin.
//
//	@Summary		Bootstrap the system
//	@Description	Only works while no tenant exists and requires the configured bootstrap token.
//	@Tags			Bootstrap
//	@Accept			json
//	@Produce		json
//	@Param			X-Bootstrap-Token	header		string						true	"Bootstrap token"
//	@Param			request				body		service.BootstrapRequest	true	"Tenant and admin"
//	@Success		201					{object}	service.BootstrapResult
//	@Failure		401					{object}	httpx.ErrorBody
//	@Failure		409					{object}	httpx.ErrorBody	"Already bootstrapped"
//	@Failure		422					{object}	httpx.ErrorBody
//	@Router			/v1/bootstrap [post].
func (h *BootstrapHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req service.BootstrapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	res, err := h.Bootstrap.Bootstrap(r.Context(), r.Header.Get(BootstrapTokenHeader), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

// HandleStatus reports whether bootstrap has happened.
//
//	@Summary	Bootstrap status
//	@Tags		Bootstrap
//	@Produce	json
//	@Success	200	{object}	BootstrapStatus
//	@Router		/v1/bootstrap [get].
func (h *BootstrapHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	done, err := h.Bootstrap.IsBootstrapped(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, BootstrapStatus{Bootstrapped: done})
}

// HandleSubscription records a tenant's billing status.
//
//	@Summary		Set tenant subscription
//	@Description	Called by the billing integration. Canceled tenants cannot start new sessions.
//	@Tags			Bootstrap
//	@Accept			json
//	@Param			X-Bootstrap-Token	header	string				true	"Operator token"
//	@Param			id					path	string				true	"Tenant ID"
//	@Param			request				body	SubscriptionRequest	true	"New status"
//	@Success		204
//	@Failure		401	{object}	httpx.ErrorBody
//	@Failure		404	{object}	httpx.ErrorBody
//	@Failure		422	{object}	httpx.ErrorBody
//	@Router			/v1/system/tenants/{id}/subscription [put].
func (h *BootstrapHandler) HandleSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	err := h.Bootstrap.SetSubscription(r.Context(), r.Header.Get(BootstrapTokenHeader), r.PathValue("id"), req.Status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
