package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
)

// Sweeper is implemented by caches that need their expired entries evicted
// by hand.
type Sweeper interface {
	Sweep() int
}

// HousekeepingService periodically deletes terminal sessions that have
// outlived their tenant's retention window.
type HousekeepingService struct {
	Store    store.Store
	Sweeper  Sweeper // optional
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, clock clockwork.Clock, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Clock:    clock,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.Chan():
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass and returns how many sessions were deleted. A
// failing tenant is logged and skipped.
func (s *HousekeepingService) Cleanup(ctx context.Context) int {
	s.Logger.Debug("starting housekeeping cleanup")

	ids, err := s.Store.Tenants().ListIDs(ctx)
	if err != nil {
		s.Logger.Error("failed to list tenants", "error", err)
		return 0
	}

	total := 0
	for _, id := range ids {
		n, err := s.purgeTenant(ctx, id)
		if err != nil {
			s.Logger.Error("failed to purge expired sessions", "tenant_id", id, "error", err)
		}
		total += n
	}

	if s.Sweeper != nil {
		if n := s.Sweeper.Sweep(); n > 0 {
			s.Logger.Debug("evicted expired cache entries", "count", n)
		}
	}

	s.Logger.Info("housekeeping cleanup completed", "sessions_deleted", total)
	return total
}

func (s *HousekeepingService) purgeTenant(ctx context.Context, tenantID string) (int, error) {
	scope, err := tenancy.ForTenant(tenantID)
	if err != nil {
		return 0, err
	}
	tenant, err := s.Store.Tenants().Get(ctx, scope)
	if err != nil {
		return 0, err
	}
	if tenant.Settings.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.Clock.Now().UTC().AddDate(0, 0, -tenant.Settings.RetentionDays)
	expired, err := s.Store.Sessions().Find(ctx, scope, store.SessionFilter{
		States:      []domain.SessionState{domain.SessionEnded, domain.SessionForceEnded},
		EndedBefore: &cutoff,
		Limit:       1000,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sess := range expired {
		if err := s.Store.Sessions().Delete(ctx, scope, sess.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
