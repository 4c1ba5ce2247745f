package metadata

import "slices"

// UserContext represents the authenticated user, set by auth middleware.
type UserContext struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}

// User is an account allowed to manage webhook configurations.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
}
