package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
)

// RefreshTokenRepo keeps token families as one row per member
// Rows are independent, so concurrent appends for one user never overwrite each other
type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveToken
WITH pruned AS (
    DELETE FROM refresh_tokens
    WHERE user_id = $2 AND expires_at <= $6
)
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	return saveRefreshToken(ctx, r.DB, token)
}

func saveRefreshToken(ctx context.Context, db DBTX, token models.RefreshToken) error {
	_, err := db.Exec(ctx, saveToken, token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const containsToken = `-- name: ContainsToken
SELECT EXISTS (
    SELECT 1 FROM refresh_tokens
    WHERE user_id = $1 AND token_hash = $2 AND expires_at > $3
)
`

func (r *RefreshTokenRepo) Contains(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, containsToken, userID, tokenHash, time.Now()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

const deleteToken = `-- name: DeleteToken
DELETE FROM refresh_tokens
WHERE user_id = $1 AND token_hash = $2
RETURNING expires_at > $3
`

// Delete token from family
// An expired row is deleted as well but is not reported as removed: it was not a live member
func (r *RefreshTokenRepo) Delete(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	return deleteRefreshToken(ctx, r.DB, userID, tokenHash)
}

func deleteRefreshToken(ctx context.Context, db DBTX, userID uuid.UUID, tokenHash string) (bool, error) {
	rows, _ := db.Query(ctx, deleteToken, userID, tokenHash, time.Now())
	live, err := pgx.CollectOneRow(rows, pgx.RowTo[bool])

	switch {
	case err == nil:
		return live, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("db error: %w", err)
	}
}

const deleteUserTokens = `-- name: DeleteUserTokens
DELETE FROM refresh_tokens
WHERE user_id = $1
`

func (r *RefreshTokenRepo) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteUserTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Rotate removes the old member and appends the new one in a single transaction
// The DELETE takes the row lock, so a concurrent rotation of the same token waits and then finds nothing
func (r *RefreshTokenRepo) Rotate(ctx context.Context, userID uuid.UUID, oldHash string, next models.RefreshToken) error {
	return inTx(ctx, r.DB, func(tx pgx.Tx) error {
		removed, err := deleteRefreshToken(ctx, tx, userID, oldHash)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
		}

		return saveRefreshToken(ctx, tx, next)
	})
}

const listUserTokens = `-- name: ListUserTokens
SELECT id, user_id, token_hash, created_at, expires_at
FROM refresh_tokens
WHERE user_id = $1 AND expires_at > $2
ORDER BY created_at, id
`

func (r *RefreshTokenRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listUserTokens, userID, time.Now())
	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		var t models.RefreshToken
		err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

const deleteExpiredTokens = `-- name: DeleteExpiredTokens
DELETE FROM refresh_tokens
WHERE id IN (
    SELECT id FROM refresh_tokens
    WHERE expires_at <= $1
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
`

// DeleteExpired removes up to limit rows expired at the moment, whoever family they belong to
func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTokens, now, limit)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
