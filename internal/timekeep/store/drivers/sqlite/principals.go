package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

type principalsRepo struct {
	q  querier
	db *sql.DB // nil inside a transaction
}

const principalColumns = `id, tenant_id, email, display_name, password_hash, role, status, mfa_secret, created_at, updated_at`

func (r *principalsRepo) Create(ctx context.Context, scope tenancy.Scope, p domain.Principal) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, tid, p.Email, p.DisplayName, p.PasswordHash, string(p.Role), string(p.Status),
		nullString(p.MFASecret), utc(p.CreatedAt), utc(p.UpdatedAt),
	)
	if uniqueViolation(err, "principals") {
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

	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = ? AND `+column+` = ?`, tid, value)
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

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = ? ORDER BY email`, tid)
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
	return r.update(ctx, scope, id, "mfa_secret", nullString(secret))
}

func (r *principalsRepo) update(ctx context.Context, scope tenancy.Scope, id, column string, value any) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE principals SET `+column+` = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		value, time.Now().UTC(), tid, id)
	if err != nil {
		return err
	}
	return expectOne(res)
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
	err = atomic(ctx, r.db, r.q, func(q querier) error {
		var owner string
		err := q.QueryRowContext(ctx,
			`SELECT id FROM principals WHERE tenant_id = ? AND id = ?`, tid, principalID).Scan(&owner)
		if err != nil {
			return mapNotFound(err)
		}

		res, err := q.ExecContext(ctx, `
			UPDATE devices SET last_seen = ?,
				name = CASE WHEN ? <> '' THEN ? ELSE name END,
				os = CASE WHEN ? <> '' THEN ? ELSE os END
			WHERE tenant_id = ? AND principal_id = ? AND id = ?`,
			now, d.Name, d.Name, d.OS, d.OS, tid, principalID, d.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var count int
			err := q.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM devices WHERE tenant_id = ? AND principal_id = ?`,
				tid, principalID).Scan(&count)
			if err != nil {
				return err
			}
			if count >= limit {
				return store.ErrDeviceLimit
			}
			_, err = q.ExecContext(ctx, `
				INSERT INTO devices (tenant_id, principal_id, id, name, os, first_seen, last_seen)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				tid, principalID, d.ID, d.Name, d.OS, now, now)
			if err != nil {
				return err
			}
		}

		row := q.QueryRowContext(ctx, `
			SELECT id, name, os, first_seen, last_seen FROM devices
			WHERE tenant_id = ? AND principal_id = ? AND id = ?`, tid, principalID, d.ID)
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
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM devices WHERE tenant_id = ? AND principal_id = ? AND id = ?`, tid, principalID, deviceID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *principalsRepo) ListDevices(ctx context.Context, scope tenancy.Scope, principalID string) ([]domain.Device, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, os, first_seen, last_seen FROM devices
		WHERE tenant_id = ? AND principal_id = ?
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

type scanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(s scanner) (domain.Principal, error) {
	var (
		p            domain.Principal
		role, status string
		mfa          sql.NullString
	)
	err := s.Scan(&p.ID, &p.TenantID, &p.Email, &p.DisplayName, &p.PasswordHash,
		&role, &status, &mfa, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Principal{}, err
	}
	p.Role = domain.Role(role)
	p.Status = domain.PrincipalStatus(status)
	p.MFASecret = stringPtr(mfa)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, nil
}

func scanDevice(s scanner) (domain.Device, error) {
	var d domain.Device
	if err := s.Scan(&d.ID, &d.Name, &d.OS, &d.FirstSeen, &d.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Device{}, store.ErrNotFound
		}
		return domain.Device{}, err
	}
	d.FirstSeen, d.LastSeen = d.FirstSeen.UTC(), d.LastSeen.UTC()
	return d, nil
}
