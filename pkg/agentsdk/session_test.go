package agentsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubServer answers login and refresh with numbered tokens and echoes the
// bearer token back on /v1/me.
type stubServer struct {
	*httptest.Server
	refreshes atomic.Int32
	lastLogin atomic.Pointer[Credentials]
}

func newStubServer(t *testing.T) *stubServer {
	t.Helper()
	s := &stubServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		s.lastLogin.Store(&creds)
		writeJSON(w, http.StatusOK, loginResponse{
			TokenPair: TokenPair{AccessToken: "access-0", RefreshToken: "refresh-0", ExpiresIn: 900},
			Principal: Principal{ID: "p1", TenantID: creds.TenantID, Role: "member"},
		})
	})
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		n := s.refreshes.Add(1)
		if req["refresh_token"] != "refresh-"+itoa(n-1) {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeInvalidToken})
			return
		}
		writeJSON(w, http.StatusOK, TokenPair{
			AccessToken:  "access-" + itoa(n),
			RefreshToken: "refresh-" + itoa(n),
			ExpiresIn:    900,
		})
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Principal{ID: r.Header.Get("Authorization"), TenantID: r.Header.Get(deviceHeader)})
	})
	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "900")
		writeJSON(w, http.StatusConflict, APIError{Code: CodeConflictingSession, Description: "Another session is already open."})
	})
	mux.HandleFunc("POST /v1/sessions/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Summary Summary `json:"summary"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, WorkSession{ID: r.PathValue("id"), State: StateEnded, Summary: &req.Summary})
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func itoa(n int32) string {
	return string(rune('0' + n))
}

func TestLoginFillsDevice(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)

	c := NewClient(srv.URL+"/", "dev-1")
	c.DeviceName = "laptop"
	sess, err := c.Login(context.Background(), Credentials{TenantID: "acme", Email: "ann@acme.test", Password: "pw"})
	require.NoError(t, err)

	creds := srv.lastLogin.Load()
	require.Equal(t, "dev-1", creds.DeviceID)
	require.Equal(t, "laptop", creds.DeviceName)
	require.NotEmpty(t, creds.DeviceOS)
	require.Equal(t, "p1", sess.Principal().ID)
	require.Equal(t, "refresh-0", sess.RefreshToken())

	me, err := sess.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer access-0", me.ID)
	require.Equal(t, "dev-1", me.TenantID)
}

func TestSessionRefreshesBeforeExpiry(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c := NewClient(srv.URL, "dev-1")
	c.now = func() time.Time { return now }

	sess, err := c.Login(ctx, Credentials{TenantID: "acme"})
	require.NoError(t, err)

	var rotated []string
	sess.OnRotate(func(p TokenPair) { rotated = append(rotated, p.RefreshToken) })

	// Inside the leeway window the pair rotates before the call.
	now = now.Add(15*time.Minute - 10*time.Second)
	me, err := sess.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "Bearer access-1", me.ID)
	require.Equal(t, []string{"refresh-1"}, rotated)

	// A fresh token is reused.
	me, err = sess.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "Bearer access-1", me.ID)
	require.EqualValues(t, 1, srv.refreshes.Load())

	require.NoError(t, sess.Refresh(ctx))
	require.Equal(t, "refresh-2", sess.RefreshToken())
}

func TestResumeSessionRotatesFirst(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)

	sess := NewClient(srv.URL, "dev-1").ResumeSession("refresh-0")
	me, err := sess.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer access-1", me.ID)
}

func TestRefreshFailureSurfaces(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)

	sess := NewClient(srv.URL, "dev-1").ResumeSession("stale")
	_, err := sess.Me(context.Background())
	require.Error(t, err)
	require.True(t, IsCode(err, CodeInvalidToken))
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	ctx := context.Background()

	sess, err := NewClient(srv.URL, "dev-1").Login(ctx, Credentials{TenantID: "acme"})
	require.NoError(t, err)

	_, err = sess.StartSession(ctx)
	require.True(t, IsCode(err, CodeConflictingSession))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, 900, apiErr.RetryAfter)
	require.Contains(t, apiErr.Error(), "conflicting_session")

	_, err = sess.GetSession(ctx, "missing")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, CodeInvalidRequest, apiErr.Code)
}

func TestEndSendsSummary(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	ctx := context.Background()

	sess, err := NewClient(srv.URL, "dev-1").Login(ctx, Credentials{TenantID: "acme"})
	require.NoError(t, err)

	ws, err := sess.End(ctx, "s1", Summary{ActiveSeconds: 3600, ActivityScore: 80})
	require.NoError(t, err)
	require.Equal(t, "s1", ws.ID)
	require.Equal(t, StateEnded, ws.State)
	require.EqualValues(t, 3600, ws.Summary.ActiveSeconds)
}

func TestLogoutDisablesSession(t *testing.T) {
	t.Parallel()
	srv := newStubServer(t)
	ctx := context.Background()

	sess, err := NewClient(srv.URL, "dev-1").Login(ctx, Credentials{TenantID: "acme"})
	require.NoError(t, err)
	require.NoError(t, sess.Logout(ctx))

	_, err = sess.Me(ctx)
	require.ErrorIs(t, err, ErrLoggedOut)
	require.ErrorIs(t, sess.Refresh(ctx), ErrLoggedOut)
	require.Empty(t, sess.RefreshToken())
}
