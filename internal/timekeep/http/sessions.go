package http

import (
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

// SessionsHandler exposes the work session state machine.
type SessionsHandler struct {
	Sessions *service.SessionService
}

// HandleStart opens a session on the caller's device.
//
//	@Summary		Start a session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		201	{object}	domain.Session
//	@Failure		403	{object}	httpx.ErrorBody	"Subscription inactive"
//	@Failure		409	{object}	httpx.ErrorBody	"Another session is open"
//	@Router			/v1/sessions [post].
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	sess, err := h.Sessions.Start(r.Context(), scope)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sess)
}

// HandleCurrent returns the caller's open session.
//
//	@Summary		Current session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	domain.Session
//	@Failure		404	{object}	httpx.ErrorBody
//	@Router			/v1/sessions/current [get].
func (h *SessionsHandler) HandleCurrent(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	sess, err := h.Sessions.Current(r.Context(), scope)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

// HandleGet returns one session with its event log.
//
//	@Summary		Get a session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	domain.Session
//	@Failure		404	{object}	httpx.ErrorBody
//	@Router			/v1/sessions/{id} [get].
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	sess, err := h.Sessions.Get(r.Context(), scope, r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

// HandlePause moves an active session to paused.
//
//	@Summary		Pause a session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	domain.Session
//	@Failure		404	{object}	httpx.ErrorBody	"No active session with this id"
//	@Router			/v1/sessions/{id}/pause [post].
func (h *SessionsHandler) HandlePause(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	h.respond(w, r)(h.Sessions.Pause(r.Context(), scope, r.PathValue("id")))
}

// HandleResume moves a paused session back to active.
//
//	@Summary		Resume a session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	domain.Session
//	@Failure		404	{object}	httpx.ErrorBody	"No paused session with this id"
//	@Router			/v1/sessions/{id}/resume [post].
func (h *SessionsHandler) HandleResume(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	h.respond(w, r)(h.Sessions.Resume(r.Context(), scope, r.PathValue("id")))
}

// HandleEnd closes a session and stores the agent's summary.
//
//	@Summary		End a session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			request	body		EndSessionRequest	true	"Summary"
//	@Success		200		{object}	domain.Session
//	@Failure		404		{object}	httpx.ErrorBody	"No open session with this id"
//	@Failure		422		{object}	httpx.ErrorBody	"Invalid summary"
//	@Router			/v1/sessions/{id}/end [post].
func (h *SessionsHandler) HandleEnd(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req EndSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	h.respond(w, r)(h.Sessions.End(r.Context(), scope, r.PathValue("id"), req.Summary))
}

// HandleIdle records an idle_start or idle_end marker.
//
//	@Summary		Record idle time
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session ID"
//	@Param			request	body		IdleRequest	true	"Marker"
//	@Success		200		{object}	domain.Session
//	@Failure		404		{object}	httpx.ErrorBody	"No active session with this id"
//	@Router			/v1/sessions/{id}/idle [post].
func (h *SessionsHandler) HandleIdle(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req IdleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	h.respond(w, r)(h.Sessions.RecordIdle(r.Context(), scope, r.PathValue("id"), req.Type, req.Metadata))
}

// HandleList lists the tenant's sessions.
//
//	@Summary		List sessions
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			principal_id	query		string	false	"Filter by principal"
//	@Param			state			query		string	false	"Filter by state"
//	@Param			limit			query		int		false	"Page size (max 500)"
//	@Success		200				{object}	SessionList
//	@Failure		403				{object}	httpx.ErrorBody
//	@Router			/v1/admin/sessions [get].
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	q := r.URL.Query()
	f := service.ListFilter{
		PrincipalID: q.Get("principal_id"),
		State:       domain.SessionState(q.Get("state")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, r, domain.NewValidationError("limit", "must be an integer"))
			return
		}
		f.Limit = n
	}

	list, err := h.Sessions.List(r.Context(), scope, f)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, SessionList{Sessions: list})
}

// HandleForceEnd terminates another principal's open session.
//
//	@Summary		Force-end a session
//	@Description	Ends any open session in the tenant and pushes session:force_end to the owner's connected clients.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			request	body		ForceEndRequest	true	"Reason"
//	@Success		200		{object}	domain.Session
//	@Failure		404		{object}	httpx.ErrorBody	"No open session with this id"
//	@Failure		422		{object}	httpx.ErrorBody	"Missing reason"
//	@Router			/v1/admin/sessions/{id}/force-end [post].
func (h *SessionsHandler) HandleForceEnd(w http.ResponseWriter, r *http.Request, scope tenancy.Scope) {
	var req ForceEndRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	h.respond(w, r)(h.Sessions.ForceEnd(r.Context(), scope, r.PathValue("id"), req.Reason))
}

func (h *SessionsHandler) respond(w http.ResponseWriter, r *http.Request) func(domain.Session, error) {
	return func(sess domain.Session, err error) {
		if err != nil {
			WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sess)
	}
}
