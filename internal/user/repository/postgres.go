package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"vidstream/backend/internal/user/domain"
)

const uniqueViolation = "23505"

const accountColumns = `id, username, email, full_name, avatar_url, COALESCE(cover_image_url, ''),
	password_hash, COALESCE(refresh_token, ''), created_at, updated_at`

// Pool is the subset of *pgxpool.Pool used by the repositories; pgxmock implements it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository on the accounts table.
type PostgresRepository struct {
	pool Pool
}

// NewPostgresRepository returns an account repository that uses the given pool for persistence.
func NewPostgresRepository(pool Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the account for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	a, err := r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, oops.With("operation", "get account by id").With("account_id", id).Wrap(err)
	}
	return a, nil
}

// GetByUsername returns the account with the given (lower-cased) username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
	if err != nil {
		return nil, oops.With("operation", "get account by username").Wrap(err)
	}
	return a, nil
}

// GetByEmail returns the account with the given (lower-cased) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	a, err := r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	if err != nil {
		return nil, oops.With("operation", "get account by email").Wrap(err)
	}
	return a, nil
}

// ExistsByUsernameOrEmail reports whether any account holds username or email.
func (r *PostgresRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1 OR email = $2)`,
		username, email).Scan(&exists)
	if err != nil {
		return false, oops.With("operation", "check account exists").Wrap(err)
	}
	return exists, nil
}

// Create persists the account. The account must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, full_name, avatar_url, cover_image_url, password_hash, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`,
		a.ID, a.Username, a.Email, a.FullName, a.AvatarURL, a.CoverImageURL,
		a.PasswordHash, a.RefreshToken, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return oops.With("operation", "create account").With("account_id", a.ID).Wrap(err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return oops.With("operation", "update password hash").With("account_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRefreshToken returns the stored refresh credential ("" when absent).
func (r *PostgresRepository) GetRefreshToken(ctx context.Context, id string) (string, error) {
	var token string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(refresh_token, '') FROM accounts WHERE id = $1`, id).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", oops.With("operation", "get refresh token").With("account_id", id).Wrap(err)
	}
	return token, nil
}

// SetRefreshToken overwrites the refresh slot unconditionally.
func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET refresh_token = NULLIF($2, ''), updated_at = now() WHERE id = $1`, id, token)
	if err != nil {
		return oops.With("operation", "set refresh token").With("account_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapRefreshToken writes token only when the slot still holds expected. The single UPDATE is
// atomic in Postgres, so of two concurrent swaps from the same expected value only one succeeds.
func (r *PostgresRepository) SwapRefreshToken(ctx context.Context, id, expected, token string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET refresh_token = NULLIF($3, ''), updated_at = now()
		 WHERE id = $1 AND refresh_token IS NOT DISTINCT FROM NULLIF($2, '')`,
		id, expected, token)
	if err != nil {
		return false, oops.With("operation", "swap refresh token").With("account_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, oops.With("operation", "swap refresh token").With("account_id", id).Wrap(err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// ClearRefreshToken empties the refresh slot. Clearing an empty slot succeeds.
func (r *PostgresRepository) ClearRefreshToken(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET refresh_token = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return oops.With("operation", "clear refresh token").With("account_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Account, error) {
	var a domain.Account
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Username, &a.Email, &a.FullName, &a.AvatarURL, &a.CoverImageURL,
		&a.PasswordHash, &a.RefreshToken, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
