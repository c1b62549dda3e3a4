// Package storetest is a behavioural test suite every store driver must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
)

// Factory returns a migrated, empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("TenantLifecycle", func(t *testing.T) { testTenantLifecycle(t, newStore(t)) })
	t.Run("ZeroScopeFailsClosed", func(t *testing.T) { testZeroScope(t, newStore(t)) })
	t.Run("PrincipalCRUD", func(t *testing.T) { testPrincipalCRUD(t, newStore(t)) })
	t.Run("DeviceCap", func(t *testing.T) { testDeviceCap(t, newStore(t)) })
	t.Run("SingleOpenSession", func(t *testing.T) { testSingleOpenSession(t, newStore(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("GuardedUpdate", func(t *testing.T) { testGuardedUpdate(t, newStore(t)) })
	t.Run("FindFilters", func(t *testing.T) { testFindFilters(t, newStore(t)) })
	t.Run("TenantIsolation", func(t *testing.T) { testTenantIsolation(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
}

// SeedTenant creates a tenant and returns its scope.
func SeedTenant(t *testing.T, s store.Store, name string) tenancy.Scope {
	t.Helper()
	id := idx.New()
	scope, err := tenancy.ForTenant(id)
	require.NoError(t, err)
	require.NoError(t, s.Tenants().Create(context.Background(), scope, domain.Tenant{
		ID:           id,
		Name:         name,
		Settings:     domain.DefaultTenantSettings(),
		Subscription: domain.SubscriptionActive,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}))
	return scope
}

// SeedPrincipal creates an active member in scope's tenant.
func SeedPrincipal(t *testing.T, s store.Store, scope tenancy.Scope, email string, role domain.Role) domain.Principal {
	t.Helper()
	tid, err := scope.TenantID()
	require.NoError(t, err)
	p := domain.Principal{
		ID:           idx.New(),
		TenantID:     tid,
		Email:        email,
		DisplayName:  email,
		PasswordHash: "$argon2id$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		Role:         role,
		Status:       domain.PrincipalActive,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
	require.NoError(t, s.Principals().Create(context.Background(), scope, p))
	return p
}

func newSession(p domain.Principal, device string, at time.Time) domain.Session {
	return domain.Session{
		ID:          idx.NewAt(at),
		TenantID:    p.TenantID,
		PrincipalID: p.ID,
		DeviceID:    device,
		StartTime:   at,
		State:       domain.SessionActive,
		Events:      []domain.SessionEvent{{Type: domain.EventStart, Timestamp: at}},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func stateptr(s domain.SessionState) *domain.SessionState { return &s }

func endSession(t *testing.T, s store.Store, scope tenancy.Scope, id string, at time.Time) {
	t.Helper()
	_, err := s.Sessions().UpdateIfState(context.Background(), scope, id,
		store.SessionGuard{From: domain.OpenStates},
		store.SessionPatch{
			To:        stateptr(domain.SessionEnded),
			EndTime:   &at,
			Event:     domain.SessionEvent{Type: domain.EventEnd, Timestamp: at},
			UpdatedAt: at,
		})
	require.NoError(t, err)
}

func testTenantLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.Tenants().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	scope := SeedTenant(t, s, "Acme")

	got, err := s.Tenants().Get(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, "Acme", got.Name)
	require.Equal(t, domain.DefaultTenantSettings(), got.Settings)
	require.Equal(t, domain.SubscriptionActive, got.Subscription)

	settings := got.Settings
	settings.DeviceCap = 5
	require.NoError(t, s.Tenants().UpdateSettings(ctx, scope, settings))
	require.NoError(t, s.Tenants().UpdateSubscription(ctx, scope, domain.SubscriptionCanceled))

	got, err = s.Tenants().Get(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, 5, got.Settings.DeviceCap)
	require.Equal(t, domain.SubscriptionCanceled, got.Subscription)

	ids, err := s.Tenants().ListIDs(ctx)
	require.NoError(t, err)
	tid, _ := scope.TenantID()
	require.Equal(t, []string{tid}, ids)

	missing, _ := tenancy.ForTenant(idx.New())
	_, err = s.Tenants().Get(ctx, missing)
	require.ErrorIs(t, err, store.ErrNotFound)

	other, _ := tenancy.ForTenant(idx.New())
	err = s.Tenants().Create(ctx, other, domain.Tenant{ID: tid, Name: "Spoof"})
	require.ErrorIs(t, err, domain.ErrMissingTenantContext, "a scope may only create its own tenant")
}

func testZeroScope(t *testing.T, s store.Store) {
	ctx := context.Background()
	var zero tenancy.Scope

	_, err := s.Tenants().Get(ctx, zero)
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)
	_, err = s.Principals().Get(ctx, zero, "x")
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)
	_, err = s.Principals().List(ctx, zero)
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)
	_, err = s.Sessions().Find(ctx, zero, store.SessionFilter{})
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)
	_, err = s.Sessions().UpdateIfState(ctx, zero, "x",
		store.SessionGuard{From: domain.OpenStates}, store.SessionPatch{})
	require.ErrorIs(t, err, domain.ErrMissingTenantContext)
	require.ErrorIs(t, s.Sessions().Delete(ctx, zero, "x"), domain.ErrMissingTenantContext)
}

func testPrincipalCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	p := SeedPrincipal(t, s, scope, "ada@example.com", domain.RoleMember)

	err := s.Principals().Create(ctx, scope, domain.Principal{
		ID: idx.New(), Email: p.Email, Role: domain.RoleMember, Status: domain.PrincipalActive,
		CreatedAt: epoch, UpdatedAt: epoch,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.Principals().GetByEmail(ctx, scope, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Nil(t, got.MFASecret)

	require.NoError(t, s.Principals().UpdateRole(ctx, scope, p.ID, domain.RoleSubAdmin))
	require.NoError(t, s.Principals().UpdateStatus(ctx, scope, p.ID, domain.PrincipalSuspended))
	secret := "JBSWY3DPEHPK3PXP"
	require.NoError(t, s.Principals().SetMFASecret(ctx, scope, p.ID, &secret))

	got, err = s.Principals().Get(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleSubAdmin, got.Role)
	require.Equal(t, domain.PrincipalSuspended, got.Status)
	require.Equal(t, &secret, got.MFASecret)

	require.ErrorIs(t, s.Principals().UpdateRole(ctx, scope, "missing", domain.RoleMember), store.ErrNotFound)

	list, err := s.Principals().List(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func testDeviceCap(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	p := SeedPrincipal(t, s, scope, "ada@example.com", domain.RoleMember)

	devices := []string{idx.NewDevice(), idx.NewDevice(), idx.NewDevice()}
	for i, d := range devices {
		got, err := s.Principals().BindDevice(ctx, scope, p.ID,
			domain.DeviceInfo{ID: d, Name: fmt.Sprintf("laptop-%d", i), OS: "linux"}, 3, epoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.Equal(t, d, got.ID)
	}

	_, err := s.Principals().BindDevice(ctx, scope, p.ID, domain.DeviceInfo{ID: idx.NewDevice()}, 3, epoch)
	require.ErrorIs(t, err, store.ErrDeviceLimit)

	bound, err := s.Principals().ListDevices(ctx, scope, p.ID)
	require.NoError(t, err)
	require.Len(t, bound, 3)
	for i, d := range bound {
		require.Equal(t, devices[i], d.ID, "existing devices are never evicted")
	}

	later := epoch.Add(time.Hour)
	again, err := s.Principals().BindDevice(ctx, scope, p.ID, domain.DeviceInfo{ID: devices[0]}, 3, later)
	require.NoError(t, err, "a known device rebinds even at the cap")
	require.Equal(t, "laptop-0", again.Name)
	require.Equal(t, epoch, again.FirstSeen)
	require.Equal(t, later, again.LastSeen)

	require.NoError(t, s.Principals().RemoveDevice(ctx, scope, p.ID, devices[1]))
	require.ErrorIs(t, s.Principals().RemoveDevice(ctx, scope, p.ID, devices[1]), store.ErrNotFound)

	_, err = s.Principals().BindDevice(ctx, scope, p.ID, domain.DeviceInfo{ID: idx.NewDevice()}, 3, later)
	require.NoError(t, err, "removing a device frees a slot")

	_, err = s.Principals().BindDevice(ctx, scope, "missing", domain.DeviceInfo{ID: idx.NewDevice()}, 3, later)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testSingleOpenSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	p := SeedPrincipal(t, s, scope, "ada@example.com", domain.RoleMember)

	first := newSession(p, idx.NewDevice(), epoch)
	require.NoError(t, s.Sessions().Create(ctx, scope, first))

	second := newSession(p, idx.NewDevice(), epoch.Add(time.Minute))
	require.ErrorIs(t, s.Sessions().Create(ctx, scope, second), store.ErrOpenSessionExists,
		"a second open session on any device is rejected")

	endSession(t, s, scope, first.ID, epoch.Add(time.Hour))
	require.NoError(t, s.Sessions().Create(ctx, scope, second), "ending frees the slot")
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	p := SeedPrincipal(t, s, scope, "ada@example.com", domain.RoleMember)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		conflict int
	)
	start := make(chan struct{})
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.Sessions().Create(ctx, scope, newSession(p, idx.NewDevice(), epoch.Add(time.Duration(i)*time.Millisecond)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrOpenSessionExists):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, attempts-1, conflict)

	open, err := s.Sessions().Find(ctx, scope, store.SessionFilter{PrincipalID: p.ID, States: domain.OpenStates})
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func testGuardedUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	p := SeedPrincipal(t, s, scope, "ada@example.com", domain.RoleMember)
	other := SeedPrincipal(t, s, scope, "bob@example.com", domain.RoleMember)

	sess := newSession(p, idx.NewDevice(), epoch)
	require.NoError(t, s.Sessions().Create(ctx, scope, sess))

	pause := func(owner string, at time.Time) (domain.Session, error) {
		return s.Sessions().UpdateIfState(ctx, scope, sess.ID,
			store.SessionGuard{PrincipalID: owner, From: []domain.SessionState{domain.SessionActive}},
			store.SessionPatch{
				To:        stateptr(domain.SessionPaused),
				Event:     domain.SessionEvent{Type: domain.EventPause, Timestamp: at},
				UpdatedAt: at,
			})
	}

	_, err := pause(other.ID, epoch.Add(time.Minute))
	require.ErrorIs(t, err, store.ErrStateMismatch, "another principal cannot move my session")

	got, err := pause(p.ID, epoch.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, domain.SessionPaused, got.State)

	_, err = pause(p.ID, epoch.Add(2*time.Minute))
	require.ErrorIs(t, err, store.ErrStateMismatch, "pausing twice fails")

	// Metadata-only event: no state change, state guard still applies.
	idleAt := epoch.Add(3 * time.Minute)
	_, err = s.Sessions().UpdateIfState(ctx, scope, sess.ID,
		store.SessionGuard{PrincipalID: p.ID, From: []domain.SessionState{domain.SessionPaused}},
		store.SessionPatch{
			Event:     domain.SessionEvent{Type: domain.EventIdleStart, Timestamp: idleAt, Metadata: map[string]any{"source": "agent"}},
			UpdatedAt: idleAt,
		})
	require.NoError(t, err)

	endAt := epoch.Add(time.Hour)
	summary := json.RawMessage(`{"active_seconds":3000,"paused_seconds":600,"total_duration":3600,"activity_score":71.5,"agent":{"version":"1.4.2"}}`)
	got, err = s.Sessions().UpdateIfState(ctx, scope, sess.ID,
		store.SessionGuard{PrincipalID: p.ID, From: domain.OpenStates},
		store.SessionPatch{
			To:        stateptr(domain.SessionEnded),
			EndTime:   &endAt,
			Summary:   summary,
			Event:     domain.SessionEvent{Type: domain.EventEnd, Timestamp: endAt},
			UpdatedAt: endAt,
		})
	require.NoError(t, err)
	require.Equal(t, domain.SessionEnded, got.State)
	require.JSONEq(t, string(summary), string(got.Summary))
	require.Equal(t, endAt, *got.EndTime)

	types := make([]domain.EventType, 0, len(got.Events))
	for _, ev := range got.Events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []domain.EventType{domain.EventStart, domain.EventPause, domain.EventIdleStart, domain.EventEnd}, types)
	require.Equal(t, "agent", got.Events[2].Metadata["source"])

	_, err = s.Sessions().UpdateIfState(ctx, scope, sess.ID,
		store.SessionGuard{From: domain.OpenStates},
		store.SessionPatch{To: stateptr(domain.SessionForceEnded), Event: domain.SessionEvent{Type: domain.EventForceEnd, Timestamp: endAt}, UpdatedAt: endAt})
	require.ErrorIs(t, err, store.ErrStateMismatch, "terminal sessions are immutable")

	_, err = s.Sessions().UpdateIfState(ctx, scope, "missing",
		store.SessionGuard{From: domain.OpenStates}, store.SessionPatch{UpdatedAt: endAt})
	require.ErrorIs(t, err, store.ErrStateMismatch)
}

func testFindFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	ada := SeedPrincipal(t, s, scope, "ada@example.com", domain.RoleMember)
	bob := SeedPrincipal(t, s, scope, "bob@example.com", domain.RoleMember)

	old := newSession(ada, idx.NewDevice(), epoch)
	require.NoError(t, s.Sessions().Create(ctx, scope, old))
	endSession(t, s, scope, old.ID, epoch.Add(time.Hour))

	recent := newSession(ada, idx.NewDevice(), epoch.Add(48*time.Hour))
	require.NoError(t, s.Sessions().Create(ctx, scope, recent))

	bobs := newSession(bob, idx.NewDevice(), epoch.Add(24*time.Hour))
	require.NoError(t, s.Sessions().Create(ctx, scope, bobs))

	all, err := s.Sessions().Find(ctx, scope, store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, recent.ID, all[0].ID, "newest first")

	mine, err := s.Sessions().Find(ctx, scope, store.SessionFilter{PrincipalID: ada.ID})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	open, err := s.Sessions().Find(ctx, scope, store.SessionFilter{States: domain.OpenStates})
	require.NoError(t, err)
	require.Len(t, open, 2)

	cutoff := epoch.Add(2 * time.Hour)
	expired, err := s.Sessions().Find(ctx, scope, store.SessionFilter{
		States:      []domain.SessionState{domain.SessionEnded, domain.SessionForceEnded},
		EndedBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, old.ID, expired[0].ID)

	limited, err := s.Sessions().Find(ctx, scope, store.SessionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, s.Sessions().Delete(ctx, scope, old.ID))
	_, err = s.Sessions().Get(ctx, scope, old.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Sessions().Delete(ctx, scope, old.ID), store.ErrNotFound)
}

func testTenantIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedTenant(t, s, "Tenant A")
	b := SeedTenant(t, s, "Tenant B")

	pb := SeedPrincipal(t, s, b, "ada@example.com", domain.RoleMember)
	// The same email in another tenant is a different principal.
	pa := SeedPrincipal(t, s, a, "ada@example.com", domain.RoleMember)

	sb := newSession(pb, idx.NewDevice(), epoch)
	require.NoError(t, s.Sessions().Create(ctx, b, sb))
	_, err := s.Principals().BindDevice(ctx, b, pb.ID, domain.DeviceInfo{ID: idx.NewDevice()}, 3, epoch)
	require.NoError(t, err)

	// Reads
	_, err = s.Principals().Get(ctx, a, pb.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	got, err := s.Principals().GetByEmail(ctx, a, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, pa.ID, got.ID)
	devs, err := s.Principals().ListDevices(ctx, a, pb.ID)
	require.NoError(t, err)
	require.Empty(t, devs)
	_, err = s.Sessions().Get(ctx, a, sb.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	for _, f := range []store.SessionFilter{
		{},
		{PrincipalID: pb.ID},
		{States: domain.OpenStates},
		{PrincipalID: pb.ID, States: []domain.SessionState{domain.SessionActive}},
	} {
		found, err := s.Sessions().Find(ctx, a, f)
		require.NoError(t, err)
		require.Empty(t, found, "filter %+v leaked across tenants", f)
	}

	// Writes
	_, err = s.Sessions().UpdateIfState(ctx, a, sb.ID,
		store.SessionGuard{From: domain.OpenStates},
		store.SessionPatch{To: stateptr(domain.SessionForceEnded), Event: domain.SessionEvent{Type: domain.EventForceEnd, Timestamp: epoch}, UpdatedAt: epoch})
	require.ErrorIs(t, err, store.ErrStateMismatch)
	require.ErrorIs(t, s.Principals().UpdateRole(ctx, a, pb.ID, domain.RoleTenantAdmin), store.ErrNotFound)
	require.ErrorIs(t, s.Principals().UpdateStatus(ctx, a, pb.ID, domain.PrincipalSuspended), store.ErrNotFound)
	_, err = s.Principals().BindDevice(ctx, a, pb.ID, domain.DeviceInfo{ID: idx.NewDevice()}, 3, epoch)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Deletes
	require.ErrorIs(t, s.Sessions().Delete(ctx, a, sb.ID), store.ErrNotFound)

	// Tenant B is untouched.
	still, err := s.Sessions().Get(ctx, b, sb.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionActive, still.State)
	pbNow, err := s.Principals().Get(ctx, b, pb.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleMember, pbNow.Role)
	require.Equal(t, domain.PrincipalActive, pbNow.Status)
	require.Len(t, pbNow.Devices, 1)
}

func testWithTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := SeedTenant(t, s, "Acme")
	tid, _ := scope.TenantID()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Principals().Create(ctx, scope, domain.Principal{
			ID: idx.New(), TenantID: tid, Email: "tx@example.com", Role: domain.RoleMember,
			Status: domain.PrincipalActive, CreatedAt: epoch, UpdatedAt: epoch,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Principals().GetByEmail(ctx, scope, "tx@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Principals().Create(ctx, scope, domain.Principal{
			ID: idx.New(), TenantID: tid, Email: "tx@example.com", Role: domain.RoleMember,
			Status: domain.PrincipalActive, CreatedAt: epoch, UpdatedAt: epoch,
		})
	})
	require.NoError(t, err)
	_, err = s.Principals().GetByEmail(ctx, scope, "tx@example.com")
	require.NoError(t, err)
}
