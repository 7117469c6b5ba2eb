package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
)

// Get identity of the caller from access token in request header
func (s *AuthService) Identify(r *http.Request) (models.Identity, error) {
	value := r.Header.Get(s.accessHeaderName)
	if value == "" {
		return models.Identity{}, apperrors.ErrMissingAuthHeader
	}

	scheme, token, ok := strings.Cut(value, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || token == "" {
		return models.Identity{}, apperrors.ErrMalformedAuthHeader
	}

	identity, err := s.tokenManager.ParseAccess(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", apperrors.ErrAccessTokenInvalid, err)
	}

	return identity, nil
}

// Get refresh token from request cookie, empty string if there is none
func (s *AuthService) ReadRefreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *AuthService) SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken) {
	cookie := s.refreshCookie(refresh.Value)
	cookie.MaxAge = int(s.tokenManager.RefreshTTL().Seconds())
	cookie.Expires = refresh.ExpiresAt

	http.SetCookie(w, cookie)
}

// Clear cookie with the same attributes it was set with, otherwise browser keeps it
func (s *AuthService) ClearRefreshCookie(w http.ResponseWriter) {
	cookie := s.refreshCookie("")
	cookie.MaxAge = -1

	http.SetCookie(w, cookie)
}

func (s *AuthService) refreshCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: s.cookieSameSite,
	}
}
