package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrAlreadyExists     = errors.New("store: already exists")
	ErrOpenSessionExists = errors.New("store: principal already has an open session")
	ErrStateMismatch     = errors.New("store: session not in expected state")
	ErrDeviceLimit       = errors.New("store: device limit reached")
)

// Store is the root data access interface implemented by the sqlite and
// postgres drivers. Every method that reads or writes tenant data takes a
// tenancy.Scope and filters on its tenant; there is no unscoped variant.
type Store interface {
	Tenants() Tenants
	Principals() Principals
	Sessions() Sessions

	ApplyMigrations() error

	// WithTx runs fn in a transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Tenants() Tenants
	Principals() Principals
	Sessions() Sessions
}

type Tenants interface {
	// Create inserts the tenant named by scope.
	Create(ctx context.Context, scope tenancy.Scope, t domain.Tenant) error

	Get(ctx context.Context, scope tenancy.Scope) (domain.Tenant, error)
	UpdateSettings(ctx context.Context, scope tenancy.Scope, s domain.TenantSettings) error
	UpdateSubscription(ctx context.Context, scope tenancy.Scope, status domain.SubscriptionStatus) error

	// ListIDs enumerates tenants for background jobs, which then work
	// through tenancy.ForTenant scopes. It returns identifiers only.
	ListIDs(ctx context.Context) ([]string, error)

	// IsEmpty reports whether no tenant exists yet (bootstrap gate).
	IsEmpty(ctx context.Context) (bool, error)
}

type Principals interface {
	// Create inserts a principal. ErrAlreadyExists on duplicate email in the tenant.
	Create(ctx context.Context, scope tenancy.Scope, p domain.Principal) error

	// Get loads a principal with its devices.
	Get(ctx context.Context, scope tenancy.Scope, id string) (domain.Principal, error)
	GetByEmail(ctx context.Context, scope tenancy.Scope, email string) (domain.Principal, error)
	List(ctx context.Context, scope tenancy.Scope) ([]domain.Principal, error)

	UpdateRole(ctx context.Context, scope tenancy.Scope, id string, role domain.Role) error
	UpdateStatus(ctx context.Context, scope tenancy.Scope, id string, status domain.PrincipalStatus) error
	SetMFASecret(ctx context.Context, scope tenancy.Scope, id string, secret *string) error

	// BindDevice registers d or refreshes its last_seen. Registering a new
	// device when limit devices are already bound fails with ErrDeviceLimit
	// and leaves the existing devices untouched. Count and insert are atomic.
	BindDevice(ctx context.Context, scope tenancy.Scope, principalID string, d domain.DeviceInfo, limit int, now time.Time) (domain.Device, error)
	RemoveDevice(ctx context.Context, scope tenancy.Scope, principalID, deviceID string) error
	ListDevices(ctx context.Context, scope tenancy.Scope, principalID string) ([]domain.Device, error)
}

// SessionFilter narrows Find. Zero fields do not filter.
type SessionFilter struct {
	PrincipalID string
	States      []domain.SessionState
	EndedBefore *time.Time
	Limit       int
}

// SessionGuard is the expected current state of a session. An update only
// applies when the row matches every field.
type SessionGuard struct {
	// PrincipalID, when set, restricts the update to the owner's session.
	PrincipalID string
	From        []domain.SessionState
}

// SessionPatch is applied together with appending Event.
type SessionPatch struct {
	To        *domain.SessionState
	EndTime   *time.Time
	Summary   json.RawMessage
	Event     domain.SessionEvent
	UpdatedAt time.Time
}

type Sessions interface {
	// Create inserts a session with its initial events. ErrOpenSessionExists
	// when the principal already has a session in an open state.
	Create(ctx context.Context, scope tenancy.Scope, s domain.Session) error

	// Get loads a session with its ordered event log.
	Get(ctx context.Context, scope tenancy.Scope, id string) (domain.Session, error)

	// Find lists sessions newest first, without event logs.
	Find(ctx context.Context, scope tenancy.Scope, f SessionFilter) ([]domain.Session, error)

	// UpdateIfState applies patch only if the session matches guard, in one
	// atomic step. ErrStateMismatch when nothing matched.
	UpdateIfState(ctx context.Context, scope tenancy.Scope, id string, guard SessionGuard, patch SessionPatch) (domain.Session, error)

	Delete(ctx context.Context, scope tenancy.Scope, id string) error
}
