package middleware

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/handlers/render"
	"github.com/nkiryanov/chatauth/internal/handlers/userctx"
	"github.com/nkiryanov/chatauth/internal/models"
	"github.com/nkiryanov/chatauth/internal/service/auth"
)

type identifier interface {
	// Get caller identity from request or error if request is not authenticated
	Identify(r *http.Request) (models.Identity, error)
}

type AuthMiddleware struct {
	auth identifier
}

func NewAuth(auth identifier) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Auth lets through only requests with valid access token and puts caller identity to request context
// Missing or malformed header is 401: client has to authenticate. Rejected token is 403
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.auth.Identify(r)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrMissingAuthHeader), errors.Is(err, apperrors.ErrMalformedAuthHeader):
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		default:
			render.ServiceError(w, "Forbidden", http.StatusForbidden)
			return
		}

		ctx := userctx.New(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles lets through callers having any of allowed roles
// Has to be wrapped by Auth
func RequireRoles(allowed ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := userctx.FromContext(r.Context())

			err := auth.Authorize(identity, allowed...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, apperrors.ErrRolesMissing):
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			default:
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
			}
		})
	}
}
