// Package session owns the single refresh slot per account: read, replace, compare-and-swap and clear,
// each bounded by the directory timeout and reported in apperr codes.
package session

import (
	"context"
	"errors"
	"time"

	"vidstream/backend/internal/platform/apperr"
	userrepo "vidstream/backend/internal/user/repository"
)

// DefaultTimeout bounds a slot call when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// Store is the session store adapter used by the rotation protocol.
type Store struct {
	slots   userrepo.SlotRepository
	timeout time.Duration
}

// NewStore returns a Store over slots. A non-positive timeout uses DefaultTimeout.
func NewStore(slots userrepo.SlotRepository, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{slots: slots, timeout: timeout}
}

// Current returns the stored refresh credential and whether one is present.
func (s *Store) Current(ctx context.Context, subjectID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tok, err := s.slots.GetRefreshToken(ctx, subjectID)
	if err != nil {
		return "", false, mapErr(ctx, err)
	}
	return tok, tok != "", nil
}

// Replace overwrites the slot with value (last writer wins).
func (s *Store) Replace(ctx context.Context, subjectID, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.slots.SetRefreshToken(ctx, subjectID, value); err != nil {
		return mapErr(ctx, err)
	}
	return nil
}

// CompareAndSwap writes value only if the slot still holds expected and reports whether it did.
func (s *Store) CompareAndSwap(ctx context.Context, subjectID, expected, value string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.slots.SwapRefreshToken(ctx, subjectID, expected, value)
	if err != nil {
		return false, mapErr(ctx, err)
	}
	return ok, nil
}

// Clear empties the slot. Clearing an empty slot succeeds.
func (s *Store) Clear(ctx context.Context, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.slots.ClearRefreshToken(ctx, subjectID); err != nil {
		return mapErr(ctx, err)
	}
	return nil
}

func mapErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, userrepo.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, "account not found", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeUnavailable, "session store timed out", err)
	default:
		return apperr.Wrap(apperr.CodeUnavailable, "session store unavailable", err)
	}
}
