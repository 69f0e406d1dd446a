package models

import "strings"

// Identity is the authenticated user returned by the credential
// validation endpoint.
type Identity struct {
	ID        UserID `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// Roles known to the collaborator.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleUser   = "user"
)

// DisplayName returns "First Last", falling back to the email.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name == "" {
		return i.Email
	}
	return name
}

// IsStaff reports whether the identity works tickets.
func (i Identity) IsStaff() bool {
	return i.Role == RoleAdmin || i.Role == RoleMember
}
