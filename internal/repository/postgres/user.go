package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
	"github.com/nkiryanov/chatauth/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, name, email, password_hash, roles`

const createUser = `-- name: CreateUser
INSERT INTO users (id, name, email, password_hash, roles)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, params repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser,
		uuid.New(),
		params.Name,
		models.NormalizeEmail(params.Email),
		params.HashedPassword,
		rolesToCodes(params.Roles),
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, models.NormalizeEmail(email))
	return collectUser(rows)
}

const listUsers = `-- name: ListUsers
SELECT ` + userColumns + ` FROM users
WHERE id <> $1
  AND ($2 = '' OR position(lower($2) IN lower(name)) > 0 OR position(lower($2) IN email) > 0)
ORDER BY created_at, id
`

func (r *UserRepo) ListUsers(ctx context.Context, search string, exclude uuid.UUID) ([]models.User, error) {
	rows, _ := r.DB.Query(ctx, listUsers, exclude, search)
	users, err := pgx.CollectRows(rows, rowToUser)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return users, nil
}

const setRoles = `-- name: SetRoles
UPDATE users
SET roles = $2
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setRoles, userID, rolesToCodes(roles))
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	var codes []int32
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Name, &u.Email, &u.HashedPassword, &codes)
	u.Roles = codesToRoles(codes)
	return u, err
}

func rolesToCodes(roles []models.Role) []int32 {
	codes := make([]int32, 0, len(roles))
	for _, r := range roles {
		codes = append(codes, int32(r))
	}
	return codes
}

func codesToRoles(codes []int32) []models.Role {
	roles := make([]models.Role, 0, len(codes))
	for _, c := range codes {
		if c != 0 {
			roles = append(roles, models.Role(c))
		}
	}
	return roles
}
