package agentsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

const bootstrapTokenHeader = "X-Bootstrap-Token"

// Client performs unauthenticated calls against a timekeep server. One
// Client represents one device.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	DeviceID   string
	DeviceName string
	DeviceOS   string

	// now is swapped in tests.
	now func() time.Time
}

// NewClient returns a Client for the server at baseURL acting as deviceID.
func NewClient(baseURL, deviceID string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		DeviceID:   deviceID,
		DeviceOS:   runtime.GOOS,
		now:        time.Now,
	}
}

// Login exchanges credentials for a device-bound Session.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.DeviceID == "" {
		creds.DeviceID = c.DeviceID
	}
	if creds.DeviceName == "" {
		creds.DeviceName = c.DeviceName
	}
	if creds.DeviceOS == "" {
		creds.DeviceOS = c.DeviceOS
	}

	var out loginResponse
	if err := c.postJSON(ctx, "/v1/auth/login", creds, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, creds.DeviceID, out.TokenPair, out.Principal), nil
}

// ResumeSession rebuilds a Session from a stored token pair. The access
// token is treated as expired so the first call rotates the pair.
func (c *Client) ResumeSession(refreshToken string) *Session {
	return newSession(c, c.DeviceID, TokenPair{RefreshToken: refreshToken}, Principal{})
}

// Bootstrap creates the first tenant and its owner.
func (c *Client) Bootstrap(ctx context.Context, token string, req BootstrapRequest) (*BootstrapResult, error) {
	var out BootstrapResult
	headers := map[string]string{bootstrapTokenHeader: token}
	if err := c.postJSON(ctx, "/v1/bootstrap", req, headers, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// BootstrapStatus reports whether the server has been bootstrapped.
func (c *Client) BootstrapStatus(ctx context.Context) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/bootstrap", nil, nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Bootstrapped bool `json:"bootstrapped"`
	}
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return false, err
	}
	return out.Bootstrapped, nil
}

// Livez checks the liveness endpoint.
func (c *Client) Livez(ctx context.Context) (*Health, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/livez", nil, nil)
	if err != nil {
		return nil, err
	}
	var out Health
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in any, headers map[string]string, out any, expected int) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"

	resp, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body), headers)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out, expected)
}
