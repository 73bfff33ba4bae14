package auth

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
)

var (
	// ErrUserNotFound is returned when no live user matches a lookup
	ErrUserNotFound = fmt.Errorf("user %w", postgres.ErrNotFound)
	// ErrInvalidCredentials is returned for an unknown email or a wrong password
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned when a non-active account tries to sign in
	ErrAccountInactive = errors.New("account is not active")
)

// AccessDeniedError is returned when an authorization precondition fails.
// The operation that returns it has made no state change.
type AccessDeniedError struct {
	UserID     int64
	Permission string
	TenantID   *int64
	Reason     string
}

func (e *AccessDeniedError) Error() string {
	msg := "access denied"
	if e.Permission != "" {
		msg += fmt.Sprintf(": missing permission %s", e.Permission)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsAccessDenied checks if an error is an access denied error
func IsAccessDenied(err error) bool {
	var e *AccessDeniedError
	return errors.As(err, &e)
}

// InvalidStateTransitionError is returned when an operation is not valid
// in the current state, such as leaving an impersonation that never started.
type InvalidStateTransitionError struct {
	State  string
	Action string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.State)
}

// IsInvalidStateTransition checks if an error is an invalid state transition
func IsInvalidStateTransition(err error) bool {
	var e *InvalidStateTransitionError
	return errors.As(err, &e)
}
