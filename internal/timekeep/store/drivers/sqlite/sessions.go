package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

type sessionsRepo struct {
	q  querier
	db *sql.DB // nil inside a transaction
}

const sessionColumns = `id, tenant_id, principal_id, device_id, state, start_time, end_time, summary, created_at, updated_at`

func (r *sessionsRepo) Create(ctx context.Context, scope tenancy.Scope, s domain.Session) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	summary := nullRaw(s.Summary)

	return atomic(ctx, r.db, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, tid, s.PrincipalID, s.DeviceID, string(s.State), utc(s.StartTime),
			nullTime(s.EndTime), summary, utc(s.CreatedAt), utc(s.UpdatedAt),
		)
		if uniqueViolation(err, "sessions") {
			return store.ErrOpenSessionExists
		}
		if err != nil {
			return err
		}

		for _, ev := range s.Events {
			if err := appendEvent(ctx, q, tid, s.ID, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *sessionsRepo) Get(ctx context.Context, scope tenancy.Scope, id string) (domain.Session, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return domain.Session{}, err
	}

	row := r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = ? AND id = ?`, tid, id)
	s, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	s.Events, err = r.events(ctx, tid, id)
	if err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

func (r *sessionsRepo) events(ctx context.Context, tid, sessionID string) ([]domain.SessionEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT type, ts, metadata FROM session_events
		WHERE tenant_id = ? AND session_id = ?
		ORDER BY seq`, tid, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SessionEvent
	for rows.Next() {
		var (
			ev   domain.SessionEvent
			typ  string
			meta sql.NullString
		)
		if err := rows.Scan(&typ, &ev.Timestamp, &meta); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(typ)
		ev.Timestamp = ev.Timestamp.UTC()
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) Find(ctx context.Context, scope tenancy.Scope, f store.SessionFilter) ([]domain.Session, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = ?`
	args := []any{tid}

	if f.PrincipalID != "" {
		query += ` AND principal_id = ?`
		args = append(args, f.PrincipalID)
	}
	if len(f.States) > 0 {
		query += ` AND state IN (` + placeholders(len(f.States)) + `)`
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	if f.EndedBefore != nil {
		query += ` AND end_time IS NOT NULL AND end_time < ?`
		args = append(args, f.EndedBefore.UTC())
	}
	query += ` ORDER BY start_time DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) UpdateIfState(
	ctx context.Context,
	scope tenancy.Scope,
	id string,
	guard store.SessionGuard,
	patch store.SessionPatch,
) (domain.Session, error) {
	tid, err := scope.TenantID()
	if err != nil {
		return domain.Session{}, err
	}
	if len(guard.From) == 0 {
		return domain.Session{}, errors.New("sqlite: session guard needs at least one state")
	}

	summary := nullRaw(patch.Summary)
	var to sql.NullString
	if patch.To != nil {
		to = sql.NullString{String: string(*patch.To), Valid: true}
	}

	var out domain.Session
	err = atomic(ctx, r.db, r.q, func(q querier) error {
		query := `
			UPDATE sessions SET
				state = COALESCE(?, state),
				end_time = COALESCE(?, end_time),
				summary = COALESCE(?, summary),
				updated_at = ?
			WHERE tenant_id = ? AND id = ? AND state IN (` + placeholders(len(guard.From)) + `)`
		args := []any{to, nullTime(patch.EndTime), summary, utc(patch.UpdatedAt), tid, id}
		for _, st := range guard.From {
			args = append(args, string(st))
		}
		if guard.PrincipalID != "" {
			query += ` AND principal_id = ?`
			args = append(args, guard.PrincipalID)
		}

		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrStateMismatch
		}

		if err := appendEvent(ctx, q, tid, id, patch.Event); err != nil {
			return err
		}

		out, err = (&sessionsRepo{q: q}).Get(ctx, scope, id)
		return err
	})
	return out, err
}

func (r *sessionsRepo) Delete(ctx context.Context, scope tenancy.Scope, id string) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	return atomic(ctx, r.db, r.q, func(q querier) error {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM session_events WHERE tenant_id = ? AND session_id = ?`, tid, id); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE tenant_id = ? AND id = ?`, tid, id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

func appendEvent(ctx context.Context, q querier, tid, sessionID string, ev domain.SessionEvent) error {
	meta, err := nullJSON(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO session_events (session_id, tenant_id, seq, type, ts, metadata)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?), ?, ?, ?)`,
		sessionID, tid, sessionID, string(ev.Type), utc(ev.Timestamp), meta)
	return err
}

func scanSession(s scanner) (domain.Session, error) {
	var (
		out     domain.Session
		state   string
		end     sql.NullTime
		summary sql.NullString
	)
	err := s.Scan(&out.ID, &out.TenantID, &out.PrincipalID, &out.DeviceID, &state,
		&out.StartTime, &end, &summary, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return domain.Session{}, err
	}
	out.State = domain.SessionState(state)
	out.EndTime = timePtr(end)
	out.StartTime = out.StartTime.UTC()
	out.CreatedAt, out.UpdatedAt = out.CreatedAt.UTC(), out.UpdatedAt.UTC()
	if summary.Valid {
		out.Summary = json.RawMessage(summary.String)
	}
	return out, nil
}
