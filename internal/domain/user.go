package domain

import "strings"

// UserRole enumerates supported roles.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
	UserRoleGuest UserRole = "guest"
)

// GuestOwnerID is the owner recorded on anonymous submissions.
const GuestOwnerID = "guest"

// Principal is the caller an action is attributed to.
type Principal struct {
	ID   string
	Role UserRole
}

// GuestPrincipal is used for unauthenticated callers when anonymous
// submission is enabled.
var GuestPrincipal = Principal{ID: GuestOwnerID, Role: UserRoleGuest}

// ParseRole maps a token claim onto a role, defaulting to user.
func ParseRole(raw string) UserRole {
	switch UserRole(strings.ToLower(strings.TrimSpace(raw))) {
	case UserRoleAdmin:
		return UserRoleAdmin
	case UserRoleGuest:
		return UserRoleGuest
	default:
		return UserRoleUser
	}
}

// IsZero reports whether no principal was resolved.
func (p Principal) IsZero() bool {
	return strings.TrimSpace(p.ID) == ""
}

// IsAdmin reports whether the principal has administrative access.
func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin && !p.IsZero()
}

// IsGuest reports whether the principal is the anonymous sentinel.
func (p Principal) IsGuest() bool {
	return p.Role == UserRoleGuest || p.ID == GuestOwnerID
}

// CanRead reports whether the principal may observe the job.
func (p Principal) CanRead(job *Job) bool {
	if job == nil || p.IsZero() {
		return false
	}
	return p.IsAdmin() || p.ID == job.OwnerID
}
