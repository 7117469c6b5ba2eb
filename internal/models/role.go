package models

import (
	"encoding/json"
	"slices"
)

// Role is a numeric role code
// Zero is never an assigned role: unassigned roles are absent from the set
type Role int32

const (
	RoleUser      Role = 2010
	RoleModerator Role = 1984
	RoleAdmin     Role = 5150
)

var knownRoles = map[Role]string{
	RoleUser:      "User",
	RoleModerator: "Moderator",
	RoleAdmin:     "Admin",
}

func (r Role) Known() bool {
	_, ok := knownRoles[r]
	return ok
}

func (r Role) String() string {
	if name, ok := knownRoles[r]; ok {
		return name
	}
	return "Unknown"
}

// RoleList is the role claim carried by an access token.
//
// Absent, null or malformed claims decode into a list with Valid=false
// instead of failing the whole token, so the role gate can tell
// "no roles" (re-authenticate) apart from "wrong roles" (forbidden).
type RoleList struct {
	Codes []Role
	Valid bool
}

func NewRoleList(roles ...Role) RoleList {
	codes := make([]Role, 0, len(roles))
	for _, r := range roles {
		if r != 0 {
			codes = append(codes, r)
		}
	}
	return RoleList{Codes: codes, Valid: true}
}

func (l RoleList) Has(role Role) bool {
	return l.Valid && slices.Contains(l.Codes, role)
}

func (l RoleList) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(l.Codes)
}

func (l *RoleList) UnmarshalJSON(b []byte) error {
	var raw []*Role
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		*l = RoleList{}
		return nil
	}

	codes := make([]Role, 0, len(raw))
	for _, r := range raw {
		if r != nil && *r != 0 {
			codes = append(codes, *r)
		}
	}
	*l = RoleList{Codes: codes, Valid: true}
	return nil
}
