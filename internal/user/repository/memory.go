package repository

import (
	"context"
	"sync"
	"time"

	"vidstream/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository for local development and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*domain.Account)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.accounts[id]), nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == username {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == username || a.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range r.accounts {
		if existing.Username == a.Username || existing.Email == a.Email {
			return ErrDuplicate
		}
	}
	r.accounts[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) GetRefreshToken(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return "", ErrNotFound
	}
	return a.RefreshToken, nil
}

func (r *MemoryRepository) SetRefreshToken(_ context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.RefreshToken = token
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) SwapRefreshToken(_ context.Context, id, expected, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.RefreshToken != expected {
		return false, nil
	}
	a.RefreshToken = token
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) ClearRefreshToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.RefreshToken = ""
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func clone(a *domain.Account) *domain.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
