package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/logger"
	"github.com/nkiryanov/chatauth/internal/models"
	"github.com/nkiryanov/chatauth/internal/repository"
	"github.com/nkiryanov/chatauth/internal/service/auth/tokenmanager"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "jwt"
)

type Config struct {
	// Hasher to compare user passwords on login
	// BcryptHasher if not set
	Hasher PasswordHasher

	// Header and scheme access token is expected in
	AccessHeaderName string
	AccessAuthScheme string

	// Refresh cookie settings
	RefreshCookieName string
	CookieSameSite    http.SameSite
	InsecureCookie    bool

	// Logger for security events, no-op if not set
	Logger logger.Logger
}

// Auth service
type AuthService struct {
	// Manager to sign and verify token pairs (access and refresh)
	tokenManager *tokenmanager.TokenManager

	// hasher to compare user passwords
	hasher PasswordHasher

	// Hash to compare against when user not found, so timing doesn't tell whether email registered
	dummyHash func() (string, error)

	storage repository.Storage
	logger  logger.Logger

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	cookieSameSite    http.SameSite
	cookieSecure      bool
}

func NewService(cfg Config, tokenManager *tokenmanager.TokenManager, storage repository.Storage) (*AuthService, error) {
	if tokenManager == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)

	switch cfg.CookieSameSite {
	case 0, http.SameSiteDefaultMode:
		cfg.CookieSameSite = http.SameSiteStrictMode
	case http.SameSiteNoneMode:
		if cfg.InsecureCookie {
			return nil, errors.New("SameSite=None cookie has to be secure")
		}
	}

	hasher := cfg.Hasher
	return &AuthService{
		tokenManager: tokenManager,
		hasher:       hasher,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("not-a-real-password")
		}),
		storage:           storage,
		logger:            cfg.Logger,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		cookieSameSite:    cfg.CookieSameSite,
		cookieSecure:      !cfg.InsecureCookie,
	}, nil
}

// Check email and password against stored user
// Any mismatch is reported as ErrInvalidCredentials, whether user exists or not
func (s *AuthService) Authenticate(ctx context.Context, email string, password string) (models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, apperrors.ErrMissingCredentials
	}

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		if hash, err := s.dummyHash(); err == nil {
			_ = s.hasher.Compare(hash, password)
		}
		return models.User{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.User{}, fmt.Errorf("error while loading user. Err: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrInvalidCredentials
	}

	return user, nil
}

// Login user and open new session
// Refresh token client still holds (presented) is consumed: a token that is not in family means it was stolen
func (s *AuthService) Login(ctx context.Context, email string, password string, presented string) (models.Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return models.Session{}, err
	}

	if presented != "" {
		if err := s.consumePresented(ctx, user, presented); err != nil {
			return models.Session{}, err
		}
	}

	pair, err := s.tokenManager.GeneratePair(user)
	if err != nil {
		return models.Session{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	if err := s.storage.Refresh().Save(ctx, s.familyMember(user.ID, pair.Refresh)); err != nil {
		return models.Session{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.Session{User: user, Tokens: pair}, nil
}

func (s *AuthService) consumePresented(ctx context.Context, user models.User, presented string) error {
	claims, err := s.tokenManager.ParseRefresh(presented)
	switch {
	case err != nil && !tokenmanager.IsKind(err, tokenmanager.Expired):
		return nil
	case claims.UserID != user.ID:
		// Token of another account, leave it alone
		return nil
	}

	hash := tokenmanager.Fingerprint(presented)
	removed, delErr := s.storage.Refresh().Delete(ctx, user.ID, hash)
	if delErr != nil {
		return fmt.Errorf("error while removing presented token. Err: %w", delErr)
	}

	if err == nil && !removed {
		return s.revokeFamily(ctx, user.ID, "login")
	}
	return nil
}

// Exchange refresh token to the new pair
// Presented token is consumed whatever the outcome is
func (s *AuthService) Refresh(ctx context.Context, presented string) (models.Session, error) {
	if presented == "" {
		return models.Session{}, apperrors.ErrNoRefreshSession
	}

	claims, err := s.tokenManager.ParseRefresh(presented)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %w", apperrors.ErrRefreshTokenInvalid, err)
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.Session{}, fmt.Errorf("%w: %w", apperrors.ErrRefreshTokenInvalid, err)
	case err != nil:
		return models.Session{}, fmt.Errorf("error while loading user. Err: %w", err)
	}

	hash := tokenmanager.Fingerprint(presented)
	member, err := s.storage.Refresh().Contains(ctx, user.ID, hash)
	if err != nil {
		return models.Session{}, fmt.Errorf("error while checking refresh token. Err: %w", err)
	}
	if !member {
		return models.Session{}, s.reuseDetected(ctx, user.ID)
	}

	if models.NormalizeEmail(claims.Email) != user.Email {
		removed, err := s.storage.Refresh().Delete(ctx, user.ID, hash)
		switch {
		case err != nil:
			return models.Session{}, fmt.Errorf("error while removing refresh token. Err: %w", err)
		case !removed:
			return models.Session{}, s.reuseDetected(ctx, user.ID)
		}
		s.logger.Warn("Refresh token claims do not match user", "user_id", user.ID)
		return models.Session{}, apperrors.ErrRefreshTamperDetected
	}

	pair, err := s.tokenManager.GeneratePair(user)
	if err != nil {
		return models.Session{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	err = s.storage.Refresh().Rotate(ctx, user.ID, hash, s.familyMember(user.ID, pair.Refresh))
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		// Consumed concurrently after membership check
		return models.Session{}, s.reuseDetected(ctx, user.ID)
	case err != nil:
		return models.Session{}, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}

	return models.Session{User: user, Tokens: pair}, nil
}

func (s *AuthService) reuseDetected(ctx context.Context, userID uuid.UUID) error {
	if err := s.revokeFamily(ctx, userID, "refresh"); err != nil {
		return err
	}
	return apperrors.ErrRefreshReuseDetected
}

func (s *AuthService) revokeFamily(ctx context.Context, userID uuid.UUID, during string) error {
	n, err := s.storage.Refresh().DeleteAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("error while revoking sessions. Err: %w", err)
	}

	s.logger.Warn("Refresh token reuse detected, all sessions revoked",
		"user_id", userID,
		"during", during,
		"revoked", n,
	)
	return nil
}

// Remove presented refresh token from family
// Unknown, foreign or already removed token is not an error
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}

	claims, err := s.tokenManager.ParseRefresh(presented)
	if err != nil && !tokenmanager.IsKind(err, tokenmanager.Expired) {
		return nil
	}

	_, err = s.storage.Refresh().Delete(ctx, claims.UserID, tokenmanager.Fingerprint(presented))
	if err != nil {
		return fmt.Errorf("error while removing refresh token. Err: %w", err)
	}
	return nil
}

// Revoke every session of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.storage.Refresh().DeleteAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error while revoking sessions. Err: %w", err)
	}
	return n, nil
}

// List active sessions of the user
func (s *AuthService) Sessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	tokens, err := s.storage.Refresh().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error while listing sessions. Err: %w", err)
	}
	return tokens, nil
}

func (s *AuthService) familyMember(userID uuid.UUID, refresh models.IssuedToken) models.RefreshToken {
	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenmanager.Fingerprint(refresh.Value),
		CreatedAt: refresh.ExpiresAt.Add(-s.tokenManager.RefreshTTL()),
		ExpiresAt: refresh.ExpiresAt,
	}
}
