package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one member of a user's token family (one active session)
// The signed token itself is never stored, only its fingerprint
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Session is a successful login: the authenticated user and its fresh tokens
type Session struct {
	User   User
	Tokens TokenPair
}
