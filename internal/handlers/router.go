package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/handlers/middleware"
	"github.com/nkiryanov/chatauth/internal/logger"
	"github.com/nkiryanov/chatauth/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	userService userService,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.NewAuth(authService)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware.Auth(h)
	}
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	api := http.NewServeMux()

	refresh := handleRefresh(authService, logger)
	api.Handle("POST /auth/login", handleLogin(authService, logger))
	api.Handle("POST /auth/refresh", refresh)
	api.Handle("GET /auth/refresh", refresh)
	api.Handle("POST /auth/logout", handleLogout(authService, logger))
	api.Handle("POST /auth/logout-all", chain(handleLogoutAll(authService, logger), withAuth))
	api.Handle("GET /auth/sessions", chain(handleSessions(authService, logger), withAuth))

	api.Handle("POST /users", handleRegister(userService, logger))
	api.Handle("GET /users", chain(handleListUsers(userService, logger), withAuth, adminOnly))
	api.Handle("GET /users/me", chain(handleUserMe(), withAuth))
	api.Handle("PUT /users/{id}/roles", chain(handleSetRoles(userService, logger), withAuth, adminOnly))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Login user with email and password, presented is refresh token client still holds (may be empty)
	// Has to return apperrors.ErrMissingCredentials or apperrors.ErrInvalidCredentials on bad credentials
	Login(ctx context.Context, email string, password string, presented string) (models.Session, error)

	// Exchange refresh token to the new pair
	// No token: apperrors.ErrNoRefreshSession
	// Rejected token: apperrors.ErrRefreshTokenInvalid, apperrors.ErrRefreshReuseDetected or apperrors.ErrRefreshTamperDetected
	Refresh(ctx context.Context, presented string) (models.Session, error)

	// Remove refresh token from its family, idempotent
	Logout(ctx context.Context, presented string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	Sessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)

	// Get caller identity from access token in request
	Identify(r *http.Request) (models.Identity, error)

	ReadRefreshCookie(r *http.Request) string
	SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken)
	ClearRefreshCookie(w http.ResponseWriter)
}

type userService interface {
	// Has to return apperrors.ErrUserAlreadyExists if email is taken
	CreateUser(ctx context.Context, name string, email string, password string) (models.User, error)
	ListUsers(ctx context.Context, search string, caller uuid.UUID) ([]models.User, error)

	// Has to return apperrors.ErrUserNotFound or apperrors.ErrRoleUnknown
	SetRoles(ctx context.Context, userID uuid.UUID, roles []models.Role) (models.User, error)
}
