package agentsdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Roles a principal can hold.
const (
	RoleTenantAdmin = "tenant_admin"
	RoleSubAdmin    = "sub_admin"
	RoleMember      = "member"
)

type CreatePrincipalRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	OS       string    `json:"os"`
	LastSeen time.Time `json:"last_seen"`
}

// PrincipalDetail is the admin view of a principal.
type PrincipalDetail struct {
	Principal
	Status  string   `json:"status"`
	Devices []Device `json:"devices"`
}

// SessionFilter narrows ListSessions. Zero values are ignored.
type SessionFilter struct {
	PrincipalID string
	State       string
	Limit       int
}

// CreatePrincipal adds a principal to the caller's tenant. Admin only.
func (s *Session) CreatePrincipal(ctx context.Context, req CreatePrincipalRequest) (*PrincipalDetail, error) {
	var out PrincipalDetail
	if err := s.call(ctx, http.MethodPost, "/v1/admin/principals", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// SuspendPrincipal blocks a principal and revokes every device it holds.
func (s *Session) SuspendPrincipal(ctx context.Context, id string) (*PrincipalDetail, error) {
	var out PrincipalDetail
	path := "/v1/admin/principals/" + url.PathEscape(id) + "/suspend"
	if err := s.call(ctx, http.MethodPost, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions lists sessions in the caller's tenant. Admin only.
func (s *Session) ListSessions(ctx context.Context, f SessionFilter) ([]WorkSession, error) {
	q := url.Values{}
	if f.PrincipalID != "" {
		q.Set("principal_id", f.PrincipalID)
	}
	if f.State != "" {
		q.Set("state", f.State)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/v1/admin/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Sessions []WorkSession `json:"sessions"`
	}
	if err := s.call(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ForceEnd ends another principal's session. Admin only; reason is
// required and is delivered to the session owner.
func (s *Session) ForceEnd(ctx context.Context, id, reason string) (*WorkSession, error) {
	path := "/v1/admin/sessions/" + url.PathEscape(id) + "/force-end"
	return s.sessionCall(ctx, http.MethodPost, path, map[string]string{"reason": reason}, http.StatusOK)
}
