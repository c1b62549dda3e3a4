package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

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

	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO tenants (id, name, settings, subscription, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tid, t.Name, string(settings), string(t.Subscription), utc(t.CreatedAt), utc(t.UpdatedAt),
	)
	if uniqueViolation(err, "tenants") {
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
		settings string
		sub      string
	)
	err = r.q.QueryRowContext(ctx, `
		SELECT id, name, settings, subscription, created_at, updated_at
		FROM tenants WHERE id = ?`, tid,
	).Scan(&t.ID, &t.Name, &settings, &sub, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, mapNotFound(err)
	}

	if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
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
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE tenants SET settings = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(b), tid)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *tenantsRepo) UpdateSubscription(ctx context.Context, scope tenancy.Scope, status domain.SubscriptionStatus) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE tenants SET subscription = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), tid)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *tenantsRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *tenantsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}
