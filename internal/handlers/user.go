package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/handlers/render"
	"github.com/nkiryanov/chatauth/internal/handlers/userctx"
	"github.com/nkiryanov/chatauth/internal/logger"
	"github.com/nkiryanov/chatauth/internal/models"
)

type userResponse struct {
	ID    uuid.UUID     `json:"id"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
	Roles []models.Role `json:"roles,omitempty"`
}

func handleRegister(userService userService, logger logger.Logger) http.Handler {
	type request struct {
		Name     string `json:"name" validate:"required,max=100"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := userService.CreateUser(r.Context(), data.Name, data.Email, data.Password)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
			return
		case errors.Is(err, apperrors.ErrMissingCredentials):
			render.ServiceError(w, "Email and password are required", http.StatusBadRequest)
			return
		default:
			logger.Error("Registration failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSONWithStatus(w, userResponse{ID: user.ID, Name: user.Name, Email: user.Email}, http.StatusCreated)
	})
}

func handleListUsers(userService userService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())

		users, err := userService.ListUsers(r.Context(), r.URL.Query().Get("search"), identity.UserID)
		if err != nil {
			logger.Error("Listing users failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]userResponse, 0, len(users))
		for _, u := range users {
			res = append(res, userResponse{ID: u.ID, Name: u.Name, Email: u.Email, Roles: u.Roles})
		}
		render.JSON(w, res)
	})
}

func handleUserMe() http.Handler {
	type response struct {
		ID    uuid.UUID       `json:"id"`
		Email string          `json:"email"`
		Roles models.RoleList `json:"roles"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{ID: identity.UserID, Email: identity.Email, Roles: identity.Roles})
	})
}

func handleSetRoles(userService userService, logger logger.Logger) http.Handler {
	type request struct {
		Roles []models.Role `json:"roles" validate:"required,min=1,dive,role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := userService.SetRoles(r.Context(), userID, data.Roles)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		case errors.Is(err, apperrors.ErrRoleUnknown):
			render.ServiceError(w, "Unknown role", http.StatusBadRequest)
			return
		default:
			logger.Error("Setting roles failed", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, userResponse{ID: user.ID, Name: user.Name, Email: user.Email, Roles: user.Roles})
	})
}
