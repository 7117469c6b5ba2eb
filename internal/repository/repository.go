package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/models"
)

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Search users by name or email (case insensitive substring). Empty search returns everyone
	// The excluded user is never returned
	ListUsers(ctx context.Context, search string, exclude uuid.UUID) ([]models.User, error)

	// Replace user roles
	// If user not found must return apperrors.ErrUserNotFound
	SetRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) (models.User, error)
}

type CreateUserParams struct {
	Name           string
	Email          string
	HashedPassword string
	Roles          []models.Role
}

// RefreshToken repository interface: the per user token family
//
// Every method is a single atomic update of the family and is durable when it returns.
// Expired members are treated as absent.
type RefreshTokenRepo interface {
	// Append token to the user's family. Expired members of the same family may be pruned on the way
	Save(ctx context.Context, token models.RefreshToken) error

	// Report whether the token is a live member of the user's family
	Contains(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error)

	// Remove token from the family
	// Idempotent: removing an absent token is not an error, removed reports whether it was a member
	Delete(ctx context.Context, userID uuid.UUID, tokenHash string) (removed bool, err error)

	// Empty the family: revoke every session of the user
	DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error)

	// Remove oldHash and append next as one atomic update
	// If oldHash is not a member nothing is appended and apperrors.ErrRefreshTokenNotFound is returned
	Rotate(ctx context.Context, userID uuid.UUID, oldHash string, next models.RefreshToken) error

	// Live members of the family ordered by creation time
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)
}

// ExpiredTokenPruner is implemented by refresh token stores that can't expire entries on their own
// Families are pruned on write, so it only matters for users gone idle
type ExpiredTokenPruner interface {
	// Remove up to limit members expired at now, returns how many were removed
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}
