package models

// UserRole represents the role of a user in the system
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleOrganizer UserRole = "organizer"
	UserRoleAdmin     UserRole = "admin"
)

// Identity is the authenticated caller as asserted by the identity provider
type Identity struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Phone  string   `json:"phone,omitempty"`
	Role   UserRole `json:"role"`
}

// IsAdmin returns true if the caller may run payout operations
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == UserRoleAdmin
}

// Contact is a ticket holder's reachable phone number
type Contact struct {
	UserID string `json:"user_id" db:"user_id"`
	Phone  string `json:"phone" db:"phone"`
}
