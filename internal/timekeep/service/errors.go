package service

import (
	"errors"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/domain"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
)

// mapStoreErr translates store sentinels into the domain taxonomy. Anything
// else passes through and surfaces as an internal error.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, store.ErrOpenSessionExists):
		return domain.ErrConflictingSession
	case errors.Is(err, store.ErrStateMismatch):
		return domain.ErrInvalidSessionState
	case errors.Is(err, store.ErrDeviceLimit):
		return domain.ErrDeviceLimitExceeded
	default:
		return err
	}
}
