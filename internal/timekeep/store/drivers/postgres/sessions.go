package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

const openSessionConstraint = "sessions_one_open_per_principal"

type sessionsRepo struct {
	q    querier
	pool *pgxpool.Pool // nil inside a transaction
}

const sessionColumns = `id, tenant_id, principal_id, device_id, state, start_time, end_time, summary, created_at, updated_at`

func (r *sessionsRepo) Create(ctx context.Context, scope tenancy.Scope, s domain.Session) error {
	tid, err := scope.TenantID()
	if err != nil {
		return err
	}
	summary := rawArg(s.Summary)

	return atomic(ctx, r.pool, r.q, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::json, $9, $10)`,
			s.ID, tid, s.PrincipalID, s.DeviceID, string(s.State), utc(s.StartTime),
			utcPtr(s.EndTime), summary, utc(s.CreatedAt), utc(s.UpdatedAt),
		)
		if uniqueViolation(err, openSessionConstraint) {
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

	row := r.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = $1 AND id = $2`, tid, id)
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
	rows, err := r.q.Query(ctx, `
		SELECT type, ts, metadata FROM session_events
		WHERE tenant_id = $1 AND session_id = $2
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
			meta []byte
		)
		if err := rows.Scan(&typ, &ev.Timestamp, &meta); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(typ)
		ev.Timestamp = ev.Timestamp.UTC()
		if meta != nil {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
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

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1`
	args := []any{tid}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.PrincipalID != "" {
		query += ` AND principal_id = ` + next(f.PrincipalID)
	}
	if len(f.States) > 0 {
		query += ` AND state = ANY(` + next(stateNames(f.States)) + `)`
	}
	if f.EndedBefore != nil {
		query += ` AND end_time IS NOT NULL AND end_time < ` + next(f.EndedBefore.UTC())
	}
	query += ` ORDER BY start_time DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + next(f.Limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
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
		return domain.Session{}, errors.New("postgres: session guard needs at least one state")
	}

	summary := rawArg(patch.Summary)
	var to *string
	if patch.To != nil {
		v := string(*patch.To)
		to = &v
	}

	var out domain.Session
	err = atomic(ctx, r.pool, r.q, func(q querier) error {
		query := `
			UPDATE sessions SET
				state = COALESCE($1, state),
				end_time = COALESCE($2, end_time),
				summary = COALESCE($3::json, summary),
				updated_at = $4
			WHERE tenant_id = $5 AND id = $6 AND state = ANY($7)`
		args := []any{to, utcPtr(patch.EndTime), summary, utc(patch.UpdatedAt), tid, id, stateNames(guard.From)}
		if guard.PrincipalID != "" {
			query += ` AND principal_id = $8`
			args = append(args, guard.PrincipalID)
		}

		tag, err := q.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
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
	tag, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE tenant_id = $1 AND id = $2`, tid, id)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func appendEvent(ctx context.Context, q querier, tid, sessionID string, ev domain.SessionEvent) error {
	meta, err := jsonArg(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO session_events (session_id, tenant_id, seq, type, ts, metadata)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = $1), $3, $4, $5::jsonb)`,
		sessionID, tid, string(ev.Type), utc(ev.Timestamp), meta)
	return err
}

func stateNames(states []domain.SessionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		out     domain.Session
		state   string
		summary []byte
	)
	err := row.Scan(&out.ID, &out.TenantID, &out.PrincipalID, &out.DeviceID, &state,
		&out.StartTime, &out.EndTime, &summary, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return domain.Session{}, err
	}
	out.State = domain.SessionState(state)
	out.EndTime = utcPtr(out.EndTime)
	out.StartTime = out.StartTime.UTC()
	out.CreatedAt, out.UpdatedAt = out.CreatedAt.UTC(), out.UpdatedAt.UTC()
	if summary != nil {
		out.Summary = json.RawMessage(summary)
	}
	return out, nil
}
