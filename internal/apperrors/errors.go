package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Credentials
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Access token transport and verification
	ErrMissingAuthHeader   = errors.New("authorization header is missing")
	ErrMalformedAuthHeader = errors.New("authorization header is malformed")
	ErrAccessTokenInvalid  = errors.New("access token is invalid")

	// Refresh tokens and token families
	ErrNoRefreshSession      = errors.New("no refresh session")
	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenInvalid   = errors.New("refresh token is invalid")
	ErrRefreshReuseDetected  = errors.New("refresh token reuse detected")
	ErrRefreshTamperDetected = errors.New("refresh token claims do not match user")

	// Role gate
	ErrRolesMissing  = errors.New("roles not found or malformed")
	ErrRoleForbidden = errors.New("insufficient role")
	ErrRoleUnknown   = errors.New("unknown role")
)
