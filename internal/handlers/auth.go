package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/handlers/render"
	"github.com/nkiryanov/chatauth/internal/handlers/userctx"
	"github.com/nkiryanov/chatauth/internal/logger"
)

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type response struct {
		AccessToken string    `json:"accessToken"`
		ID          uuid.UUID `json:"id"`
		Email       string    `json:"email"`
		Name        string    `json:"name"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Login(r.Context(), data.Email, data.Password, authService.ReadRefreshCookie(r))
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrMissingCredentials):
			render.ServiceError(w, "Email and password are required", http.StatusBadRequest)
			return
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		default:
			logger.Error("Login failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.SetRefreshCookie(w, session.Tokens.Refresh)
		render.JSON(w, response{
			AccessToken: session.Tokens.Access.Value,
			ID:          session.User.ID,
			Email:       session.User.Email,
			Name:        session.User.Name,
		})
	})
}

func handleRefresh(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := authService.Refresh(r.Context(), authService.ReadRefreshCookie(r))
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrNoRefreshSession):
			render.NoContent(w)
			return
		case errors.Is(err, apperrors.ErrRefreshTokenInvalid),
			errors.Is(err, apperrors.ErrRefreshReuseDetected),
			errors.Is(err, apperrors.ErrRefreshTamperDetected):
			logger.Info("Refresh token rejected", "error", err)
			authService.ClearRefreshCookie(w)
			render.ServiceError(w, "Forbidden", http.StatusForbidden)
			return
		default:
			logger.Error("Refresh failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.SetRefreshCookie(w, session.Tokens.Refresh)
		render.JSON(w, accessTokenResponse{AccessToken: session.Tokens.Access.Value})
	})
}

func handleLogout(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := authService.Logout(r.Context(), authService.ReadRefreshCookie(r))
		authService.ClearRefreshCookie(w)

		if err != nil {
			logger.Error("Logout failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.NoContent(w)
	})
}

func handleLogoutAll(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())

		n, err := authService.LogoutAll(r.Context(), identity.UserID)
		if err != nil {
			logger.Error("Logout everywhere failed", "error", err, "user_id", identity.UserID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("All sessions revoked by user", "user_id", identity.UserID, "revoked", n)
		authService.ClearRefreshCookie(w)
		render.NoContent(w)
	})
}

func handleSessions(authService authService, logger logger.Logger) http.Handler {
	type session struct {
		ID        uuid.UUID `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())

		tokens, err := authService.Sessions(r.Context(), identity.UserID)
		if err != nil {
			logger.Error("Listing sessions failed", "error", err, "user_id", identity.UserID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]session, 0, len(tokens))
		for _, t := range tokens {
			res = append(res, session{ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
		}
		render.JSON(w, res)
	})
}
