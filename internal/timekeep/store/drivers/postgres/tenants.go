package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

type tenantsRepo struct {
	q querier
}

func (r *tenantsRepo) Create(ctx context.Context, scope tenancy.Scope, t domain.Tenant) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	if t.ID != tid {
		return fmt.Errorf("tenant %q outside scope: %w", t.ID, domain.ErrMissingTenantContext)
	}
	settings, err := jsonArg(t.Settings)
	if err != nil {
		return err
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO tenants (id, name, settings, subscription, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)`,
		tid, t.Name, settings, string(t.Subscription), utc(t.CreatedAt), utc(t.UpdatedAt),
	)
	if uniqueViolation(err, "tenants_pkey") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *tenantsRepo) Get(ctx context.Context, scope tenancy.Scope) (domain.Tenant, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return domain.Tenant{}, err
	}

	var (
		t        domain.Tenant
		settings []byte
		sub      string
	)
	err = r.q.QueryRow(ctx, `
		SELECT id, name, settings, subscription, created_at, updated_at
		FROM tenants WHERE id = $1`, tid,
	).Scan(&t.ID, &t.Name, &settings, &sub, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, mapNotFound(err)
	}

	if err := json.Unmarshal(settings, &t.Settings); err != nil {
		return domain.Tenant{}, fmt.Errorf("decode tenant settings: %w", err)
	}
	t.Subscription = domain.SubscriptionStatus(sub)
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return t, nil
}

func (r *tenantsRepo) UpdateSettings(ctx context.Context, scope tenancy.Scope, s domain.TenantSettings) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	settings, err := jsonArg(s)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE tenants SET settings = $1::jsonb, updated_at = now() WHERE id = $2`, settings, tid)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (r *tenantsRepo) UpdateSubscription(ctx context.Context, scope tenancy.Scope, status domain.SubscriptionStatus) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE tenants SET subscription = $1, updated_at = now() WHERE id = $2`, string(status), tid)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (r *tenantsRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *tenantsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants)`).Scan(&exists); err != nil {
		return false, err
	}
	return !exists, nil
}
