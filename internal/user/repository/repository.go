package repository

import (
	"context"
	"errors"

	"vidstream/backend/internal/user/domain"
)

var (
	// ErrNotFound is returned by mutations that target an account that does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is returned by Create when the username or email is taken.
	ErrDuplicate = errors.New("account already exists")
)

// Repository defines persistence for accounts (the user directory).
// Lookups return nil, nil when no account matches; only storage failures are errors.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, a *domain.Account) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SlotRepository
}

// SlotRepository persists the single refresh credential per account. An empty value means no
// session. Every method returns ErrNotFound when the account does not exist.
type SlotRepository interface {
	GetRefreshToken(ctx context.Context, id string) (string, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	// SwapRefreshToken stores token only if the slot currently holds expected; it reports whether it did.
	SwapRefreshToken(ctx context.Context, id, expected, token string) (bool, error)
	ClearRefreshToken(ctx context.Context, id string) error
}
