package models

import "strings"

// Role is the backend's account role.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleStaff      Role = "STAFF"
	RoleVolunteer  Role = "VOLUNTEER"
	RoleDonor      Role = "DONOR"
	RoleMember     Role = "MEMBER"
)

// NormalizeRole upper-cases and trims a role as received from the backend.
func NormalizeRole(raw string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(raw)))
}

// Identity is the authenticated user handed to the session layer.
type Identity struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	Status      string `json:"status,omitempty"`
}
