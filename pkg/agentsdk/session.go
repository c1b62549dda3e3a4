package agentsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const deviceHeader = "X-Device-ID"

// refreshLeeway refreshes this long before the access token expires.
const refreshLeeway = 30 * time.Second

// ErrLoggedOut is returned by calls made after Logout.
var ErrLoggedOut = errors.New("agentsdk: session logged out")

// Session is an authenticated device. It is safe for concurrent use; a
// refresh is serialized so the rotated token is never presented twice.
type Session struct {
	client   *Client
	deviceID string

	mu        sync.Mutex
	access    string
	refresh   string
	expiresAt time.Time
	principal Principal
	onRotate  func(TokenPair)
	loggedOut bool
}

func newSession(c *Client, deviceID string, pair TokenPair, p Principal) *Session {
	s := &Session{client: c, deviceID: deviceID, principal: p}
	s.store(pair)
	return s
}

// store must be called with mu held or before the Session is shared.
func (s *Session) store(pair TokenPair) {
	s.access = pair.AccessToken
	s.refresh = pair.RefreshToken
	s.expiresAt = s.client.now().Add(time.Duration(pair.ExpiresIn)*time.Second - refreshLeeway)
}

// Principal returns the principal returned at login.
func (s *Session) Principal() Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// OnRotate registers fn to receive every new token pair, so the agent
// can persist the current refresh token.
func (s *Session) OnRotate(fn func(TokenPair)) {
	s.mu.Lock()
	s.onRotate = fn
	s.mu.Unlock()
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

func (s *Session) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedOut {
		return "", ErrLoggedOut
	}
	if s.access != "" && s.client.now().Before(s.expiresAt) {
		return s.access, nil
	}
	if err := s.rotateLocked(ctx); err != nil {
		return "", err
	}
	return s.access, nil
}

// Refresh rotates the token pair now.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOut {
		return ErrLoggedOut
	}
	return s.rotateLocked(ctx)
}

func (s *Session) rotateLocked(ctx context.Context) error {
	if s.refresh == "" {
		return fmt.Errorf("agentsdk: no refresh token")
	}

	var pair TokenPair
	req := map[string]string{"refresh_token": s.refresh}
	headers := map[string]string{deviceHeader: s.deviceID}
	if err := s.client.postJSON(ctx, "/v1/auth/refresh", req, headers, &pair, http.StatusOK); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	s.store(pair)
	if s.onRotate != nil {
		s.onRotate(pair)
	}
	return nil
}

// Logout revokes this device's refresh token. The Session is unusable
// afterwards.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.call(ctx, http.MethodPost, "/v1/auth/logout", nil, nil, http.StatusOK); err != nil {
		return err
	}
	s.mu.Lock()
	s.loggedOut = true
	s.access, s.refresh = "", ""
	s.mu.Unlock()
	return nil
}

// Me returns the calling principal.
func (s *Session) Me(ctx context.Context) (*Principal, error) {
	var out Principal
	if err := s.call(ctx, http.MethodGet, "/v1/me", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSession opens a work session on this device.
func (s *Session) StartSession(ctx context.Context) (*WorkSession, error) {
	return s.sessionCall(ctx, http.MethodPost, "/v1/sessions", nil, http.StatusCreated)
}

// CurrentSession returns the open work session. It fails with
// CodeNotFound when none is open.
func (s *Session) CurrentSession(ctx context.Context) (*WorkSession, error) {
	return s.sessionCall(ctx, http.MethodGet, "/v1/sessions/current", nil, http.StatusOK)
}

func (s *Session) GetSession(ctx context.Context, id string) (*WorkSession, error) {
	return s.sessionCall(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, http.StatusOK)
}

func (s *Session) Pause(ctx context.Context, id string) (*WorkSession, error) {
	return s.sessionCall(ctx, http.MethodPost, sessionPath(id, "pause"), nil, http.StatusOK)
}

func (s *Session) Resume(ctx context.Context, id string) (*WorkSession, error) {
	return s.sessionCall(ctx, http.MethodPost, sessionPath(id, "resume"), nil, http.StatusOK)
}

// End closes the session with the agent's summary.
func (s *Session) End(ctx context.Context, id string, summary Summary) (*WorkSession, error) {
	body := map[string]Summary{"summary": summary}
	return s.sessionCall(ctx, http.MethodPost, sessionPath(id, "end"), body, http.StatusOK)
}

// ReportIdle records an IdleStart or IdleEnd marker.
func (s *Session) ReportIdle(ctx context.Context, id, eventType string, metadata map[string]any) (*WorkSession, error) {
	body := map[string]any{"type": eventType}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	return s.sessionCall(ctx, http.MethodPost, sessionPath(id, "idle"), body, http.StatusOK)
}

func sessionPath(id, action string) string {
	return "/v1/sessions/" + url.PathEscape(id) + "/" + action
}

func (s *Session) sessionCall(ctx context.Context, method, path string, in any, expected int) (*WorkSession, error) {
	var out WorkSession
	if err := s.call(ctx, method, path, in, &out, expected); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) call(ctx context.Context, method, path string, in, out any, expected int) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	var resp *http.Response
	var err error
	if body == nil {
		resp, err = s.doAuthRequest(ctx, method, path, nil)
	} else {
		resp, err = s.doAuthRequest(ctx, method, path, body)
	}
	if err != nil {
		return err
	}
	return decodeJSON(resp, out, expected)
}
