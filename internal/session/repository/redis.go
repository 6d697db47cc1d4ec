// Package repository holds refresh slot backends that live outside the user directory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const defaultKeyPrefix = "vidstream:refresh"

// swapScript sets KEYS[1] to ARGV[2] (or deletes it when ARGV[2] is empty) only if it currently
// holds ARGV[1]; an empty ARGV[1] means "slot must be absent". ARGV[3] is the TTL in milliseconds.
const swapScript = `
local current = redis.call("GET", KEYS[1])
if current == false then
  current = ""
end
if current ~= ARGV[1] then
  return 0
end
if ARGV[2] == "" then
  redis.call("DEL", KEYS[1])
else
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return 1
`

var swapLua = redis.NewScript(swapScript)

// RedisRepository keeps one refresh credential per account under a TTL equal to the refresh
// token lifetime, so an expired slot disappears on its own. Redis has no view of the account
// table: an unknown id reads as an empty slot and never yields ErrNotFound.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRepository returns a RedisRepository. An empty prefix uses "vidstream:refresh".
func NewRedisRepository(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + ":" + id
}

// GetRefreshToken returns the stored credential or "" when none is stored.
func (r *RedisRepository) GetRefreshToken(ctx context.Context, id string) (string, error) {
	tok, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", oops.With("operation", "get refresh token").With("account_id", id).Wrap(err)
	}
	return tok, nil
}

// SetRefreshToken overwrites the slot; an empty token clears it.
func (r *RedisRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	if token == "" {
		return r.ClearRefreshToken(ctx, id)
	}
	if err := r.client.Set(ctx, r.key(id), token, r.ttl).Err(); err != nil {
		return oops.With("operation", "set refresh token").With("account_id", id).Wrap(err)
	}
	return nil
}

// SwapRefreshToken runs the compare-and-swap atomically inside Redis.
func (r *RedisRepository) SwapRefreshToken(ctx context.Context, id, expected, token string) (bool, error) {
	n, err := swapLua.Run(ctx, r.client, []string{r.key(id)}, expected, token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, oops.With("operation", "swap refresh token").With("account_id", id).Wrap(err)
	}
	return n == 1, nil
}

// ClearRefreshToken deletes the slot. Deleting a missing key succeeds.
func (r *RedisRepository) ClearRefreshToken(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return oops.With("operation", "clear refresh token").With("account_id", id).Wrap(err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
