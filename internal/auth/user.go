package auth

import "slices"

// User is the cached profile of the signed-in principal.
type User struct {
	ID              int      `json:"id"`
	Email           string   `json:"email"`
	Username        string   `json:"username,omitempty"`
	FirstName       string   `json:"first_name,omitempty"`
	LastName        string   `json:"last_name,omitempty"`
	IsSuperuser     bool     `json:"is_superuser"`
	IsStaff         bool     `json:"is_staff"`
	IsActive        bool     `json:"is_active"`
	IsLocked        bool     `json:"is_locked,omitempty"`
	IsEmailVerified bool     `json:"is_email_verified"`
	Group           *int     `json:"group,omitempty"`
	GroupName       string   `json:"group_name,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
}

// Role values returned by Client.Role.
const (
	RoleSuperuser = "superuser"
	RoleStaff     = "staff"
	RoleUser      = "user"
	RoleGuest     = "guest"
)

// HasPermission answers the pseudo permissions admin, staff and verified
// from the profile flags, anything else from the permission list.
func (u *User) HasPermission(name string) bool {
	if u == nil {
		return false
	}
	switch name {
	case "admin":
		return u.IsSuperuser
	case "staff":
		return u.IsStaff
	case "verified":
		return u.IsEmailVerified
	default:
		return slices.Contains(u.Permissions, name)
	}
}

func (u *User) Role() string {
	switch {
	case u == nil:
		return RoleGuest
	case u.IsSuperuser:
		return RoleSuperuser
	case u.IsStaff:
		return RoleStaff
	default:
		return RoleUser
	}
}

// DisplayName prefers the full name over the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Email
	}
	return name
}
