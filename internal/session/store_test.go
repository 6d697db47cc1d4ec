package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidstream/backend/internal/platform/apperr"
	"vidstream/backend/internal/user/domain"
	userrepo "vidstream/backend/internal/user/repository"
)

// slowSlots blocks every call until ctx is done.
type slowSlots struct{}

func (slowSlots) GetRefreshToken(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (slowSlots) SetRefreshToken(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
func (slowSlots) SwapRefreshToken(ctx context.Context, _, _, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}
func (slowSlots) ClearRefreshToken(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// brokenSlots fails every call with a transport error.
type brokenSlots struct{}

var errConnRefused = errors.New("connection refused")

func (brokenSlots) GetRefreshToken(context.Context, string) (string, error) { return "", errConnRefused }
func (brokenSlots) SetRefreshToken(context.Context, string, string) error   { return errConnRefused }
func (brokenSlots) SwapRefreshToken(context.Context, string, string, string) (bool, error) {
	return false, errConnRefused
}
func (brokenSlots) ClearRefreshToken(context.Context, string) error { return errConnRefused }

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	repo := userrepo.NewMemoryRepository()
	if err := repo.Create(context.Background(), &domain.Account{ID: "u1", Username: "alice", Email: "a@x.io"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return NewStore(repo, time.Second)
}

func TestStore_ReplaceCurrentClear(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	if _, ok, err := s.Current(ctx, "u1"); err != nil || ok {
		t.Fatalf("Current on empty slot: ok=%v err=%v", ok, err)
	}
	if err := s.Replace(ctx, "u1", "t1"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Replace(ctx, "u1", "t2"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	tok, ok, err := s.Current(ctx, "u1")
	if err != nil || !ok || tok != "t2" {
		t.Fatalf("Current = %q, %v, %v; want t2", tok, ok, err)
	}
	if err := s.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear on empty slot: %v", err)
	}
	if _, ok, _ := s.Current(ctx, "u1"); ok {
		t.Fatal("slot still present after Clear")
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	_ = s.Replace(ctx, "u1", "t1")

	ok, err := s.CompareAndSwap(ctx, "u1", "t0", "t2")
	if err != nil || ok {
		t.Fatalf("CAS with stale expected = %v, %v", ok, err)
	}
	ok, err = s.CompareAndSwap(ctx, "u1", "t1", "t2")
	if err != nil || !ok {
		t.Fatalf("CAS = %v, %v", ok, err)
	}
	if tok, _, _ := s.Current(ctx, "u1"); tok != "t2" {
		t.Fatalf("slot = %q, want t2", tok)
	}
}

func TestStore_MissingAccountIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	if _, _, err := s.Current(ctx, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Current err = %v, want NotFound", err)
	}
	if err := s.Clear(ctx, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Clear err = %v, want NotFound", err)
	}
	if err := s.Replace(ctx, "ghost", "t"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Replace err = %v, want NotFound", err)
	}
}

func TestStore_TimeoutIsUnavailable(t *testing.T) {
	s := NewStore(slowSlots{}, 20*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	_, _, err := s.Current(ctx, "u1")
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("Current err = %v, want Unavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Current took %v; timeout not applied", elapsed)
	}
	if _, err := s.CompareAndSwap(ctx, "u1", "a", "b"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("CompareAndSwap err = %v, want Unavailable", err)
	}
	if err := s.Replace(ctx, "u1", "b"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("Replace err = %v, want Unavailable", err)
	}
	if err := s.Clear(ctx, "u1"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("Clear err = %v, want Unavailable", err)
	}
}

func TestStore_TransportErrorIsUnavailable(t *testing.T) {
	s := NewStore(brokenSlots{}, 0)
	err := s.Replace(context.Background(), "u1", "t")
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("err = %v, want Unavailable", err)
	}
	if !errors.Is(err, errConnRefused) {
		t.Fatalf("cause lost: %v", err)
	}
}
