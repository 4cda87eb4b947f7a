package shared

import "fmt"

// Role enumerates stock control roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleStoreman Role = "storeman"
	RoleAccounts Role = "accounts"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStoreman, RoleAccounts:
		return true
	}
	return false
}

// ParseRole converts raw input to Role.
func ParseRole(raw string) (Role, error) {
	role := Role(raw)
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q: %w", raw, ErrValidation)
	}
	return role, nil
}

// Actor is the authenticated caller supplied by the auth layer.
type Actor struct {
	ID        int64
	Name      string
	Role      Role
	CompanyID int64
}

// IsAdmin reports whether the actor holds the administrator role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
