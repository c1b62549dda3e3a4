package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

type principalsRepo struct {
	q    querier
	pool *pgxpool.Pool // nil inside a transaction
}

const principalColumns = `id, tenant_id, email, display_name, password_hash, role, status, mfa_secret, created_at, updated_at`

func (r *principalsRepo) Create(ctx context.Context, scope tenancy.Scope, p domain.Principal) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, tid, p.Email, p.DisplayName, p.PasswordHash, string(p.Role), string(p.Status),
		p.MFASecret, utc(p.CreatedAt), utc(p.UpdatedAt),
	)
	if uniqueViolation(err, "") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *principalsRepo) Get(ctx context.Context, scope tenancy.Scope, id string) (domain.Principal, error) {
	return r.getBy(ctx, scope, "id", id)
}

func (r *principalsRepo) GetByEmail(ctx context.Context, scope tenancy.Scope, email string) (domain.Principal, error) {
	return r.getBy(ctx, scope, "email", email)
}

func (r *principalsRepo) getBy(ctx context.Context, scope tenancy.Scope, column, value string) (domain.Principal, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return domain.Principal{}, err
	}

	row := r.q.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND `+column+` = $2`, tid, value)
	p, err := scanPrincipal(row)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}

	p.Devices, err = r.ListDevices(ctx, scope, p.ID)
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

func (r *principalsRepo) List(ctx context.Context, scope tenancy.Scope) ([]domain.Principal, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 ORDER BY email`, tid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *principalsRepo) UpdateRole(ctx context.Context, scope tenancy.Scope, id string, role domain.Role) error {
	return r.update(ctx, scope, id, "role", string(role))
}

func (r *principalsRepo) UpdateStatus(ctx context.Context, scope tenancy.Scope, id string, status domain.PrincipalStatus) error {
	return r.update(ctx, scope, id, "status", string(status))
}

func (r *principalsRepo) SetMFASecret(ctx context.Context, scope tenancy.Scope, id string, secret *string) error {
	return r.update(ctx, scope, id, "mfa_secret", secret)
}

func (r *principalsRepo) update(ctx context.Context, scope tenancy.Scope, id, column string, value any) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE principals SET `+column+` = $1, updated_at = now() WHERE tenant_id = $2 AND id = $3`,
		value, tid, id)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (r *principalsRepo) BindDevice(
	ctx context.Context,
	scope tenancy.Scope,
	principalID string,
	d domain.DeviceInfo,
	limit int,
	now time.Time,
) (domain.Device, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return domain.Device{}, err
	}
	now = now.UTC()

	var out domain.Device
	err = atomic(ctx, r.pool, r.q, func(q querier) error {
		// Locking the principal row serialises concurrent binds for the
		// same principal so the count below cannot go stale.
		var owner string
		err := q.QueryRow(ctx,
			`SELECT id FROM principals WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			tid, principalID).Scan(&owner)
		if err != nil {
			return mapNotFound(err)
		}

		tag, err := q.Exec(ctx, `
			UPDATE devices SET last_seen = $1,
				name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
				os = CASE WHEN $3 <> '' THEN $3 ELSE os END
			WHERE tenant_id = $4 AND principal_id = $5 AND id = $6`,
			now, d.Name, d.OS, tid, principalID, d.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var count int
			err := q.QueryRow(ctx,
				`SELECT COUNT(*) FROM devices WHERE tenant_id = $1 AND principal_id = $2`,
				tid, principalID).Scan(&count)
			if err != nil {
				return err
			}
			if count >= limit {
				return store.ErrDeviceLimit
			}
			_, err = q.Exec(ctx, `
				INSERT INTO devices (tenant_id, principal_id, id, name, os, first_seen, last_seen)
				VALUES ($1, $2, $3, $4, $5, $6, $6)`,
				tid, principalID, d.ID, d.Name, d.OS, now)
			if err != nil {
				return err
			}
		}

		row := q.QueryRow(ctx, `
			SELECT id, name, os, first_seen, last_seen FROM devices
			WHERE tenant_id = $1 AND principal_id = $2 AND id = $3`, tid, principalID, d.ID)
		out, err = scanDevice(row)
		return err
	})
	return out, err
}

func (r *principalsRepo) RemoveDevice(ctx context.Context, scope tenancy.Scope, principalID, deviceID string) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx,
		`DELETE FROM devices WHERE tenant_id = $1 AND principal_id = $2 AND id = $3`, tid, principalID, deviceID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (r *principalsRepo) ListDevices(ctx context.Context, scope tenancy.Scope, principalID string) ([]domain.Device, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, name, os, first_seen, last_seen FROM devices
		WHERE tenant_id = $1 AND principal_id = $2
		ORDER BY first_seen, id`, tid, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanPrincipal(row pgx.Row) (domain.Principal, error) {
	var (
		p            domain.Principal
		role, status string
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.Email, &p.DisplayName, &p.PasswordHash,
		&role, &status, &p.MFASecret, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Principal{}, err
	}
	p.Role = domain.Role(role)
	p.Status = domain.PrincipalStatus(status)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, nil
}

func scanDevice(row pgx.Row) (domain.Device, error) {
	var d domain.Device
	if err := row.Scan(&d.ID, &d.Name, &d.OS, &d.FirstSeen, &d.LastSeen); err != nil {
		return domain.Device{}, mapNotFound(err)
	}
	d.FirstSeen, d.LastSeen = d.FirstSeen.UTC(), d.LastSeen.UTC()
	return d, nil
}
