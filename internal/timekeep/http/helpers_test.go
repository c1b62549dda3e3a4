package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache/memory"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	tkhttp "github.com/aussiebroadwan/timekeep/internal/timekeep/http"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/metrics"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/realtime"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/storetest"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/httpx"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

const (
	testPassword   = "correct-horse-battery"
	bootstrapToken = "let-me-in"
)

type testServer struct {
	store    store.Store
	keys     *jwtx.KeyManager
	clock    *clockwork.FakeClock
	hasher   *cryptox.PasswordHasher
	notifier *realtime.Notifier
	metrics  *metrics.Metrics
	srv      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "timekeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: "ES256",
		Issuer:    "https://timekeep.test",
		Audience:  []string{"timekeep"},
		Clock:     clock,
	})
	require.NoError(t, err)

	c := memory.New(clock)
	hasher := cryptox.NewPasswordHasher("pepper")
	m := metrics.New()
	log := slogx.Discard()

	tokens := &service.TokenService{
		Keys:       keys,
		Store:      st,
		Cache:      c,
		Clock:      clock,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Metrics:    m,
		Logger:     log,
	}
	auth, err := service.NewAuthService(st, tokens, hasher)
	require.NoError(t, err)

	router := tkhttp.NewRouter(keys, "test", st, c, clock, log)
	guard := tenancy.NewGuard(tokens, tkhttp.WriteError)
	n := realtime.New(guard, tkhttp.WriteError, log, m, clock, realtime.Options{})
	n.Init()

	router.Metrics = m
	router.TokenService = tokens
	router.AuthService = auth
	router.MFAService = &service.MFAService{Store: st, Cache: c, Issuer: "Timekeep"}
	router.SessionService = &service.SessionService{Store: st, Notifier: n, Clock: clock, Metrics: m}
	router.PrincipalService = &service.PrincipalService{Store: st, Tokens: tokens, Hasher: hasher, Notifier: n, Clock: clock}
	router.TenantService = &service.TenantService{Store: st}
	router.BootstrapService = &service.BootstrapService{Store: st, Hasher: hasher, Clock: clock, Token: bootstrapToken}
	router.Realtime = n
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
		srv.Close()
	})

	return &testServer{store: st, keys: keys, clock: clock, hasher: hasher, notifier: n, metrics: m, srv: srv}
}

func (s *testServer) tenant(t *testing.T, name string) tenancy.Scope {
	return storetest.SeedTenant(t, s.store, name)
}

func (s *testServer) principal(t *testing.T, scope tenancy.Scope, email string, role domain.Role) domain.Principal {
	t.Helper()
	tid, err := scope.TenantID()
	require.NoError(t, err)
	hash, err := s.hasher.Hash(testPassword)
	require.NoError(t, err)
	p := domain.Principal{
		ID:           idx.New(),
		TenantID:     tid,
		Email:        email,
		DisplayName:  email,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.PrincipalActive,
		CreatedAt:    s.clock.Now(),
		UpdatedAt:    s.clock.Now(),
	}
	require.NoError(t, s.store.Principals().Create(context.Background(), scope, p))
	return p
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func (r response) errorCode(t *testing.T) string {
	t.Helper()
	var body httpx.ErrorBody
	r.decode(t, &body)
	return body.Error
}

type request struct {
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
}

func (s *testServer) do(t *testing.T, req request) response {
	t.Helper()

	var body io.Reader
	switch b := req.body.(type) {
	case nil:
	case []byte:
		// Sent as is, so tests can post bodies that are not valid JSON.
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	hr, err := http.NewRequest(req.method, s.srv.URL+req.path, body)
	require.NoError(t, err)
	if req.body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		hr.Header.Set("Authorization", "Bearer "+req.token)
	}
	for k, v := range req.headers {
		hr.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(hr)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: raw}
}

type login struct {
	device string
	result service.LoginResult
}

// login authenticates p on a fresh device.
func (s *testServer) login(t *testing.T, p domain.Principal) login {
	t.Helper()
	device := idx.NewDevice()
	resp := s.do(t, request{method: http.MethodPost, path: "/v1/auth/login", body: service.LoginRequest{
		TenantID: p.TenantID,
		Email:    p.Email,
		Password: testPassword,
		DeviceID: device,
	}})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	var res service.LoginResult
	resp.decode(t, &res)
	return login{device: device, result: res}
}

func (l login) token() string { return l.result.AccessToken }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/v1/realtime?access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	require.Equal(t, realtime.EventConnected, readEnvelope(t, conn).Event)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}
