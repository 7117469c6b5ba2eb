package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Name           string
	Email          string
	HashedPassword string
	Roles          []Role
}

// NormalizeEmail returns email in the form it is stored and looked up with
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Identity of the caller as proven by a verified access token
type Identity struct {
	UserID uuid.UUID
	Email  string
	Roles  RoleList
}
