package http

import (
	"net/http"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

// PrincipalsHandler serves /v1/me and principal administration.
type PrincipalsHandler struct {
	Principals *service.PrincipalService
}

// HandleMe returns the calling principal.
//
//	@Summary	Current principal
//	@Tags		Principals
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	service.PrincipalDetail
//	@Router		/v1/me [get].
func (h *PrincipalsHandler) HandleMe(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	h.respond(w, r, http.StatusOK)(h.Principals.Me(r.Context(), scope))
}

// HandleCreate adds a principal to the caller's tenant.
//
//	@Summary		Create a principal
//	@Description	Admins may create members. Only a tenant_admin may create admins.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		service.CreatePrincipalRequest	true	"Principal"
//	@Success		201		{object}	service.PrincipalDetail
//	@Failure		403		{object}	httpx.ErrorBody
//	@Failure		409		{object}	httpx.ErrorBody	"Email already registered"
//	@Failure		422		{object}	httpx.ErrorBody
//	@Router			/v1/admin/principals [post].
func (h *PrincipalsHandler) HandleCreate(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req service.CreatePrincipalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated)(h.Principals.Create(r.Context(), scope, req))
}

// HandleList lists the tenant's principals.
//
//	@Summary	List principals
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{array}	service.PrincipalDetail
//	@Router		/v1/admin/principals [get].
func (h *PrincipalsHandler) HandleList(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	list, err := h.Principals.List(r.Context(), scope)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

// HandleChangeRole changes a principal's role.
//
//	@Summary	Change role
//	@Tags		Admin
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"Principal ID"
//	@Param		request	body		ChangeRoleRequest	true	"Role"
//	@Success	200		{object}	service.PrincipalDetail
//	@Failure	403		{object}	httpx.ErrorBody
//	@Router		/v1/admin/principals/{id}/role [put].
func (h *PrincipalsHandler) HandleChangeRole(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req ChangeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK)(h.Principals.ChangeRole(r.Context(), scope, r.PathValue("id"), req.Role))
}

// HandleSuspend suspends a principal and revokes every device.
//
//	@Summary	Suspend a principal
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Param		id	path		string	true	"Principal ID"
//	@Success	200	{object}	service.PrincipalDetail
//	@Router		/v1/admin/principals/{id}/suspend [post].
func (h *PrincipalsHandler) HandleSuspend(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	h.respond(w, r, http.StatusOK)(h.Principals.Suspend(r.Context(), scope, r.PathValue("id")))
}

// HandleReactivate lifts a suspension.
//
//	@Summary	Reactivate a principal
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Param		id	path		string	true	"Principal ID"
//	@Success	200	{object}	service.PrincipalDetail
//	@Router		/v1/admin/principals/{id}/reactivate [post].
func (h *PrincipalsHandler) HandleReactivate(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	h.respond(w, r, http.StatusOK)(h.Principals.Reactivate(r.Context(), scope, r.PathValue("id")))
}

// HandleDevices lists a principal's bound devices.
//
//	@Summary	List devices
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Param		id	path	string	true	"Principal ID"
//	@Success	200	{array}	domain.Device
//	@Router		/v1/admin/principals/{id}/devices [get].
func (h *PrincipalsHandler) HandleDevices(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	devices, err := h.Principals.ListDevices(r.Context(), scope, r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, devices)
}

// HandleRemoveDevice unbinds a device and revokes its refresh token.
//
//	@Summary	Remove a device
//	@Tags		Admin
//	@Security	BearerAuth
//	@Param		id		path	string	true	"Principal ID"
//	@Param		device	path	string	true	"Device ID"
//	@Success	204
//	@Failure	404	{object}	httpx.ErrorBody
//	@Router		/v1/admin/principals/{id}/devices/{device} [delete].
func (h *PrincipalsHandler) HandleRemoveDevice(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	if err := h.Principals.RemoveDevice(r.Context(), scope, r.PathValue("id"), r.PathValue("device")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PrincipalsHandler) respond(w http.ResponseWriter, r *http.Request, status int) func(service.PrincipalDetail, error) {
	return func(p service.PrincipalDetail, err error) {
		if err != nil {
			WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, status, p)
	}
}
