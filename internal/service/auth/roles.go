package auth

import (
	"slices"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
)

// Authorize caller against allow-list of roles
// Access is granted if any caller role is allowed; roles have no hierarchy
func Authorize(identity models.Identity, allowed ...models.Role) error {
	if !identity.Roles.Valid {
		return apperrors.ErrRolesMissing
	}

	if slices.ContainsFunc(identity.Roles.Codes, func(r models.Role) bool {
		return slices.Contains(allowed, r)
	}) {
		return nil
	}

	return apperrors.ErrRoleForbidden
}
