package http

import (
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

type TenantHandler struct {
	Tenants *service.TenantService
}

// HandleGet returns the caller's tenant and settings.
//
//	@Summary	Get tenant settings
//	@Tags		Tenant
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	service.TenantView
//	@Router		/v1/tenant/settings [get].
func (h *TenantHandler) HandleGet(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	v, err := h.Tenants.Get(r.Context(), scope)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// HandleUpdate replaces the tenant settings.
//
//	@Summary	Update tenant settings
//	@Tags		Tenant
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		service.SettingsView	true	"Settings"
//	@Success	200		{object}	service.TenantView
//	@Failure	403		{object}	httpx.ErrorBody
//	@Failure	422		{object}	httpx.ErrorBody
//	@Router		/v1/tenant/settings [put].
func (h *TenantHandler) HandleUpdate(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req service.SettingsView
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	v, err := h.Tenants.UpdateSettings(r.Context(), scope, req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}
