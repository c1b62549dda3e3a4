package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/metrics"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/idx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

// MaxReasonLength caps the force-end reason stored in the event log.
const MaxReasonLength = 500

// SessionService runs the work session state machine:
//
//	start      -> active
//	active     -> paused       (pause)
//	paused     -> active       (resume)
//	open       -> ended        (end, with summary)
//	open       -> force_ended  (force-end, admin)
//
// Each transition is one guarded update in the store, so a request racing
// against another transition on the same session fails rather than
// applying twice.
type SessionService struct {
	Store    store.Store
	Notifier Notifier
	Clock    clockwork.Clock
	Metrics  *metrics.Metrics
}

// StateChange is the payload of session:state signals.
type StateChange struct {
	SessionID   string              `json:"session_id"`
	PrincipalID string              `json:"principal_id"`
	DeviceID    string              `json:"device_id"`
	State       domain.SessionState `json:"state"`
	Event       domain.EventType    `json:"event"`
}

// ForceEndSignal is sent to the principal whose session was force-ended.
type ForceEndSignal struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	By        string `json:"by"`
}

// Start opens a session for the caller on the caller's device.
func (s *SessionService) Start(ctx context.Context, scope tenancy.Scope) (domain.Session, error) {
	tenant, err := s.Store.Tenants().Get(ctx, scope)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load tenant: %w", mapStoreErr(err))
	}
	if !tenant.Subscription.AllowsTracking() {
		return domain.Session{}, domain.ErrSubscriptionInactive
	}

	now := s.Clock.Now().UTC()
	sess := domain.Session{
		ID:          idx.NewAt(now),
		TenantID:    tenant.ID,
		PrincipalID: scope.PrincipalID(),
		DeviceID:    scope.DeviceID(),
		StartTime:   now,
		State:       domain.SessionActive,
		Events:      []domain.SessionEvent{{Type: domain.EventStart, Timestamp: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Store.Sessions().Create(ctx, scope, sess); err != nil {
		if errors.Is(err, store.ErrOpenSessionExists) {
			slogx.FromContext(ctx).Info("session start rejected: another session is open")
			return domain.Session{}, domain.ErrConflictingSession
		}
		return domain.Session{}, err
	}

	s.published(ctx, sess, domain.EventStart)
	return sess, nil
}

func (s *SessionService) Pause(ctx context.Context, scope tenancy.Scope, id string) (domain.Session, error) {
	return s.move(ctx, scope, id, []domain.SessionState{domain.SessionActive}, domain.SessionPaused, domain.EventPause)
}

func (s *SessionService) Resume(ctx context.Context, scope tenancy.Scope, id string) (domain.Session, error) {
	return s.move(ctx, scope, id, []domain.SessionState{domain.SessionPaused}, domain.SessionActive, domain.EventResume)
}

func (s *SessionService) move(
	ctx context.Context,
	scope tenancy.Scope,
	id string,
	from []domain.SessionState,
	to domain.SessionState,
	ev domain.EventType,
) (domain.Session, error) {
	now := s.Clock.Now().UTC()
	return s.apply(ctx, scope, id,
		store.SessionGuard{PrincipalID: scope.PrincipalID(), From: from},
		store.SessionPatch{
			To:        &to,
			Event:     domain.SessionEvent{Type: ev, Timestamp: now},
			UpdatedAt: now,
		})
}

// End closes the caller's open session and stores summary verbatim.
func (s *SessionService) End(ctx context.Context, scope tenancy.Scope, id string, summary json.RawMessage) (domain.Session, error) {
	if _, err := domain.ParseSummary(summary); err != nil {
		return domain.Session{}, err
	}

	now := s.Clock.Now().UTC()
	to := domain.SessionEnded
	return s.apply(ctx, scope, id,
		store.SessionGuard{PrincipalID: scope.PrincipalID(), From: domain.OpenStates},
		store.SessionPatch{
			To:        &to,
			EndTime:   &now,
			Summary:   summary,
			Event:     domain.SessionEvent{Type: domain.EventEnd, Timestamp: now},
			UpdatedAt: now,
		})
}

// ForceEnd terminates any open session in the admin's tenant. The affected
// principal is told afterwards; delivery is not awaited or guaranteed.
func (s *SessionService) ForceEnd(ctx context.Context, scope tenancy.Scope, id, reason string) (domain.Session, error) {
	if !scope.IsAdmin() {
		return domain.Session{}, domain.ErrInsufficientPermissions
	}
	reason = strings.TrimSpace(reason)
	switch {
	case reason == "":
		return domain.Session{}, domain.NewValidationError("reason", "is required")
	case len(reason) > MaxReasonLength:
		return domain.Session{}, domain.NewValidationError("reason", fmt.Sprintf("must be at most %d characters", MaxReasonLength))
	}

	now := s.Clock.Now().UTC()
	to := domain.SessionForceEnded
	sess, err := s.apply(ctx, scope, id,
		store.SessionGuard{From: domain.OpenStates},
		store.SessionPatch{
			To:      &to,
			EndTime: &now,
			Event: domain.SessionEvent{
				Type:      domain.EventForceEnd,
				Timestamp: now,
				Metadata:  map[string]any{"reason": reason, "by": scope.PrincipalID()},
			},
			UpdatedAt: now,
		})
	if err != nil {
		return domain.Session{}, err
	}

	delivered := notifierOrNop(s.Notifier).NotifyPrincipal(sess.TenantID, sess.PrincipalID, EventSessionForceEnd, ForceEndSignal{
		SessionID: sess.ID,
		Reason:    reason,
		By:        scope.PrincipalID(),
	})
	slogx.FromContext(ctx).Info("session force-ended",
		slog.String("session_id", sess.ID),
		slog.String("target_principal_id", sess.PrincipalID),
		slog.Int("connections_notified", delivered),
	)
	return sess, nil
}

// RecordIdle appends an idle_start or idle_end marker to an active session.
// The session state does not change.
func (s *SessionService) RecordIdle(ctx context.Context, scope tenancy.Scope, id string, kind domain.EventType, metadata map[string]any) (domain.Session, error) {
	if kind != domain.EventIdleStart && kind != domain.EventIdleEnd {
		return domain.Session{}, domain.NewValidationError("type", "must be idle_start or idle_end")
	}

	now := s.Clock.Now().UTC()
	return s.apply(ctx, scope, id,
		store.SessionGuard{PrincipalID: scope.PrincipalID(), From: []domain.SessionState{domain.SessionActive}},
		store.SessionPatch{
			Event:     domain.SessionEvent{Type: kind, Timestamp: now, Metadata: metadata},
			UpdatedAt: now,
		})
}

func (s *SessionService) apply(ctx context.Context, scope tenancy.Scope, id string, guard store.SessionGuard, patch store.SessionPatch) (domain.Session, error) {
	sess, err := s.Store.Sessions().UpdateIfState(ctx, scope, id, guard, patch)
	if err != nil {
		if errors.Is(err, store.ErrStateMismatch) {
			slogx.FromContext(ctx).Info("session transition rejected",
				slog.String("session_id", id),
				slog.String("event", string(patch.Event.Type)),
			)
			return domain.Session{}, domain.ErrInvalidSessionState
		}
		return domain.Session{}, err
	}

	s.published(ctx, sess, patch.Event.Type)
	return sess, nil
}

// published records an accepted event and tells the tenant's admins.
func (s *SessionService) published(ctx context.Context, sess domain.Session, ev domain.EventType) {
	s.Metrics.SessionTransition(string(ev))
	notifierOrNop(s.Notifier).NotifyAdmins(sess.TenantID, EventSessionState, StateChange{
		SessionID:   sess.ID,
		PrincipalID: sess.PrincipalID,
		DeviceID:    sess.DeviceID,
		State:       sess.State,
		Event:       ev,
	})
	slogx.FromContext(ctx).Debug("session event recorded",
		slog.String("session_id", sess.ID),
		slog.String("event", string(ev)),
		slog.String("state", string(sess.State)),
	)
}

// Get returns a session with its event log. Members only see their own.
func (s *SessionService) Get(ctx context.Context, scope tenancy.Scope, id string) (domain.Session, error) {
	sess, err := s.Store.Sessions().Get(ctx, scope, id)
	if err != nil {
		return domain.Session{}, mapStoreErr(err)
	}
	if !scope.IsAdmin() && sess.PrincipalID != scope.PrincipalID() {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

// Current returns the caller's open session, if any.
func (s *SessionService) Current(ctx context.Context, scope tenancy.Scope) (domain.Session, error) {
	open, err := s.Store.Sessions().Find(ctx, scope, store.SessionFilter{
		PrincipalID: scope.PrincipalID(),
		States:      domain.OpenStates,
		Limit:       1,
	})
	if err != nil {
		return domain.Session{}, err
	}
	if len(open) == 0 {
		return domain.Session{}, domain.ErrNotFound
	}
	return s.Get(ctx, scope, open[0].ID)
}

// ListFilter narrows an admin listing.
type ListFilter struct {
	PrincipalID string
	State       domain.SessionState
	Limit       int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// List returns sessions of the admin's tenant, newest first, without events.
func (s *SessionService) List(ctx context.Context, scope tenancy.Scope, f ListFilter) ([]domain.Session, error) {
	if !scope.IsAdmin() {
		return nil, domain.ErrInsufficientPermissions
	}

	filter := store.SessionFilter{PrincipalID: f.PrincipalID, Limit: f.Limit}
	if f.State != "" {
		if !f.State.Valid() {
			return nil, domain.NewValidationError("state", "is not a session state")
		}
		filter.States = []domain.SessionState{f.State}
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}

	out, err := s.Store.Sessions().Find(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Session{}
	}
	return out, nil
}
