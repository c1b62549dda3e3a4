package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache/memory"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/storetest"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

const testPassword = "correct-horse-battery"

type env struct {
	store  store.Store
	cache  *memory.Cache
	clock  *clockwork.FakeClock
	keys   *jwtx.KeyManager
	hasher *cryptox.PasswordHasher
	notes  *recordingNotifier

	tokens     *service.TokenService
	auth       *service.AuthService
	sessions   *service.SessionService
	principals *service.PrincipalService
}

func newEnv(t *testing.T) *env {
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

	e := &env{
		store:  st,
		cache:  memory.New(clock),
		clock:  clock,
		keys:   keys,
		hasher: cryptox.NewPasswordHasher("pepper"),
		notes:  &recordingNotifier{},
	}
	e.tokens = &service.TokenService{
		Keys:       keys,
		Store:      st,
		Cache:      e.cache,
		Clock:      clock,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
	e.auth, err = service.NewAuthService(st, e.tokens, e.hasher)
	require.NoError(t, err)
	e.sessions = &service.SessionService{Store: st, Notifier: e.notes, Clock: clock}
	e.principals = &service.PrincipalService{
		Store:    st,
		Tokens:   e.tokens,
		Hasher:   e.hasher,
		Notifier: e.notes,
		Clock:    clock,
	}
	return e
}

// principal seeds a principal whose password is testPassword.
func (e *env) principal(t *testing.T, scope tenancy.Scope, email string, role domain.Role) domain.Principal {
	t.Helper()
	tid, err := scope.TenantID()
	require.NoError(t, err)
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)

	p := domain.Principal{
		ID:           idx.New(),
		TenantID:     tid,
		Email:        email,
		DisplayName:  email,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.PrincipalActive,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	require.NoError(t, e.store.Principals().Create(context.Background(), scope, p))
	return p
}

func (e *env) tenant(t *testing.T, name string) tenancy.Scope {
	return storetest.SeedTenant(t, e.store, name)
}

// actAs logs p in on device and returns the scope its access token yields.
func (e *env) actAs(t *testing.T, scope tenancy.Scope, p domain.Principal, device string) tenancy.Scope {
	t.Helper()
	pair, err := e.tokens.Issue(context.Background(), scope, p, domain.DeviceInfo{ID: device})
	require.NoError(t, err)
	claims, err := e.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	s, err := tenancy.FromClaims(claims)
	require.NoError(t, err)
	return s
}

type notification struct {
	TenantID    string
	PrincipalID string
	Admins      bool
	Event       string
	Data        any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) record(x notification) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
	return 1
}

func (n *recordingNotifier) NotifyTenant(tenantID, event string, data any) int {
	return n.record(notification{TenantID: tenantID, Event: event, Data: data})
}

func (n *recordingNotifier) NotifyAdmins(tenantID, event string, data any) int {
	return n.record(notification{TenantID: tenantID, Admins: true, Event: event, Data: data})
}

func (n *recordingNotifier) NotifyPrincipal(tenantID, principalID, event string, data any) int {
	return n.record(notification{TenantID: tenantID, PrincipalID: principalID, Event: event, Data: data})
}

func (n *recordingNotifier) events(name string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, x := range n.sent {
		if x.Event == name {
			out = append(out, x)
		}
	}
	return out
}
