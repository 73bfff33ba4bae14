package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Well-known session keys
const (
	KeyUserID          = "user_id"
	KeyOriginalUserID  = "original_user_id"
	KeyCurrentTenantID = "current_tenant_id"
	KeyOAuthState      = "oauth_state"
	KeyCreatedAt       = "created_at"
)

// ErrSessionNotFound is returned when loading an unknown or expired session
var ErrSessionNotFound = errors.New("session not found")

// Session is a per-browser key/value bag. Values are strings; callers
// convert.
type Session interface {
	// ID returns the opaque session identifier sent to the client
	ID() string

	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a single value
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Update applies set and del in one atomic step. Concurrent readers
	// observe either none or all of the changes.
	Update(ctx context.Context, set map[string]string, del ...string) error

	// Destroy removes the session entirely
	Destroy(ctx context.Context) error
}

// Store creates and loads sessions
type Store interface {
	// New creates an empty session with a fresh identifier
	New(ctx context.Context) (Session, error)

	// Load returns the session for id or ErrSessionNotFound
	Load(ctx context.Context, id string) (Session, error)
}

// GetInt64 reads an integer value. A malformed value is reported as absent so
// that a corrupted pointer degrades to the unset behaviour.
func GetInt64(ctx context.Context, s Session, key string) (int64, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// FormatID renders an ID for storage in a session
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s session: %w", op, err)
}
