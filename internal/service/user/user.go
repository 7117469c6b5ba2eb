package user

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
	"github.com/nkiryanov/chatauth/internal/repository"
	"github.com/nkiryanov/chatauth/internal/service/auth"
)

type UserService struct {
	hasher  auth.PasswordHasher
	storage repository.Storage
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
	}
}

// Register new user with the default User role
func (s *UserService) CreateUser(ctx context.Context, name string, email string, password string) (models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, apperrors.ErrMissingCredentials
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Name:           name,
		Email:          email,
		HashedPassword: hash,
		Roles:          []models.Role{models.RoleUser},
	})
	if err != nil {
		return models.User{}, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}
	return user, nil
}

// Search users by name or email, the caller is never listed
func (s *UserService) ListUsers(ctx context.Context, search string, caller uuid.UUID) ([]models.User, error) {
	users, err := s.storage.User().ListUsers(ctx, search, caller)
	if err != nil {
		return nil, fmt.Errorf("can't list users. Err: %w", err)
	}
	return users, nil
}

// Replace user roles
// Only known roles are accepted and User role is always kept
func (s *UserService) SetRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) (models.User, error) {
	set := []models.Role{models.RoleUser}
	for _, r := range roles {
		if !r.Known() {
			return models.User{}, fmt.Errorf("%w: %d", apperrors.ErrRoleUnknown, r)
		}
		if !slices.Contains(set, r) {
			set = append(set, r)
		}
	}

	user, err := s.storage.User().SetRoles(ctx, userID, set)
	if err != nil {
		return models.User{}, fmt.Errorf("can't set roles. Err: %w", err)
	}
	return user, nil
}
