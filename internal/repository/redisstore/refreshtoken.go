// Package redisstore keeps refresh token families in Redis
//
// Every family is a hash "<prefix>:family:<userID>" where the field is the token hash
// and the value is "<expiresAtMs>:<createdAtMs>:<tokenID>".
// Multi-step mutations run as Lua scripts, so they are atomic per family.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
)

const DefaultPrefix = "chatauth"

// Shared by scripts below: drop expired members and keep the key alive while the longest member lives
const helpersLua = `
local function expires_at(value)
  return tonumber(string.match(value, "^(%d+)"))
end

local function prune(key, now)
  local all = redis.call("HGETALL", key)
  for i = 1, #all, 2 do
    if expires_at(all[i + 1]) <= now then
      redis.call("HDEL", key, all[i])
    end
  end
end

local function append(key, field, value, exp, now)
  prune(key, now)
  redis.call("HSET", key, field, value)
  local ttl = redis.call("PTTL", key)
  if ttl < exp - now then
    redis.call("PEXPIRE", key, exp - now)
  end
end
`

var saveLua = redis.NewScript(helpersLua + `
append(KEYS[1], ARGV[1], ARGV[2], tonumber(ARGV[3]), tonumber(ARGV[4]))
return 1
`)

var deleteLua = redis.NewScript(helpersLua + `
local value = redis.call("HGET", KEYS[1], ARGV[1])
if not value then
  return 0
end
redis.call("HDEL", KEYS[1], ARGV[1])
if expires_at(value) <= tonumber(ARGV[2]) then
  return 0
end
return 1
`)

var rotateLua = redis.NewScript(helpersLua + `
local now = tonumber(ARGV[5])
local value = redis.call("HGET", KEYS[1], ARGV[1])
if not value or expires_at(value) <= now then
  return 0
end
redis.call("HDEL", KEYS[1], ARGV[1])
append(KEYS[1], ARGV[2], ARGV[3], tonumber(ARGV[4]), now)
return 1
`)

type RefreshTokenRepo struct {
	client redis.UniversalClient
	prefix string
}

func NewRefreshTokenRepo(client redis.UniversalClient, prefix string) *RefreshTokenRepo {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RefreshTokenRepo{client: client, prefix: prefix}
}

func (r *RefreshTokenRepo) familyKey(userID uuid.UUID) string {
	return r.prefix + ":family:" + userID.String()
}

func encodeMember(token models.RefreshToken) string {
	return fmt.Sprintf("%d:%d:%s", token.ExpiresAt.UnixMilli(), token.CreatedAt.UnixMilli(), token.ID)
}

func decodeMember(userID uuid.UUID, field, value string) (models.RefreshToken, error) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return models.RefreshToken{}, fmt.Errorf("malformed family member %q", value)
	}
	exp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("malformed expiry: %w", err)
	}
	created, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("malformed creation time: %w", err)
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("malformed token id: %w", err)
	}

	return models.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: field,
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(exp),
	}, nil
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	key := r.familyKey(token.UserID)
	args := []any{token.TokenHash, encodeMember(token), token.ExpiresAt.UnixMilli(), time.Now().UnixMilli()}

	if err := saveLua.Run(ctx, r.client, []string{key}, args...).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Contains(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	value, err := r.client.HGet(ctx, r.familyKey(userID), tokenHash).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis error: %w", err)
	}

	token, err := decodeMember(userID, tokenHash, value)
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return token.ExpiresAt.After(time.Now()), nil
}

func (r *RefreshTokenRepo) Delete(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	removed, err := deleteLua.Run(ctx, r.client, []string{r.familyKey(userID)}, tokenHash, time.Now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return removed == 1, nil
}

func (r *RefreshTokenRepo) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := r.familyKey(userID)

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.HLen(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return count.Val(), nil
}

func (r *RefreshTokenRepo) Rotate(ctx context.Context, userID uuid.UUID, oldHash string, next models.RefreshToken) error {
	key := r.familyKey(userID)
	args := []any{oldHash, next.TokenHash, encodeMember(next), next.ExpiresAt.UnixMilli(), time.Now().UnixMilli()}

	rotated, err := rotateLua.Run(ctx, r.client, []string{key}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if rotated != 1 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return nil
}

func (r *RefreshTokenRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	members, err := r.client.HGetAll(ctx, r.familyKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	now := time.Now()
	tokens := make([]models.RefreshToken, 0, len(members))
	for field, value := range members {
		token, err := decodeMember(userID, field, value)
		if err != nil {
			return nil, fmt.Errorf("redis error: %w", err)
		}
		if token.ExpiresAt.After(now) {
			tokens = append(tokens, token)
		}
	}

	slices.SortFunc(tokens, func(a, b models.RefreshToken) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return tokens, nil
}
