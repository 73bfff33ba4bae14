package auth

import "time"

// UserType is the account class of a user. It is independent of roles.
type UserType string

const (
	UserTypeSuperAdmin UserType = "super_admin" // Bypasses every permission check
	UserTypeAdmin      UserType = "admin"
	UserTypeUser       UserType = "user"
)

// UserStatus is the lifecycle state of an account
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

// UserTypes lists the valid account classes
var UserTypes = []string{string(UserTypeSuperAdmin), string(UserTypeAdmin), string(UserTypeUser)}

// UserStatuses lists the valid account states
var UserStatuses = []string{
	string(UserStatusActive),
	string(UserStatusInactive),
	string(UserStatusSuspended),
	string(UserStatusBanned),
}

// User represents an account
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Type         UserType   `json:"type"`
	Status       UserStatus `json:"status"`
	Plan         string     `json:"plan,omitempty"`
	GoogleID     *string    `json:"google_id,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// IsSuperAdmin reports whether the user bypasses permission checks
func (u *User) IsSuperAdmin() bool {
	return u != nil && u.Type == UserTypeSuperAdmin
}

// IsActive reports whether the user may sign in
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive && u.DeletedAt == nil
}

// Identity is the resolved pair of users behind a session.
//
// User is the effective user every check runs against. OriginalUser is set
// only while impersonating and holds the administrator who started it.
type Identity struct {
	User         *User `json:"user"`
	OriginalUser *User `json:"original_user,omitempty"`
}

// IsImpersonating reports whether the session acts as another user
func (i *Identity) IsImpersonating() bool {
	return i != nil && i.OriginalUser != nil
}

// Actor returns the human responsible for the request: the original user
// while impersonating, the effective user otherwise.
func (i *Identity) Actor() *User {
	if i == nil {
		return nil
	}
	if i.OriginalUser != nil {
		return i.OriginalUser
	}
	return i.User
}

// ListFilter narrows List results
type ListFilter struct {
	Type   UserType
	Status UserStatus
	Search string
	Limit  int
	Offset int
}
