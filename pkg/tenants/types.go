package tenants

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
)

// RoleOwner is the implicit membership role of a tenant's owning user. It is
// derived from tenants.user_id and never stored in tenant_user.
const RoleOwner = "owner"

// DefaultInvitationTTL is how long an invitation token stays valid
const DefaultInvitationTTL = 7 * 24 * time.Hour

var (
	// ErrTenantNotFound is returned when no tenant matches a lookup
	ErrTenantNotFound = fmt.Errorf("tenant %w", postgres.ErrNotFound)
	// ErrMembershipNotFound is returned when a user has no row in tenant_user
	ErrMembershipNotFound = fmt.Errorf("membership %w", postgres.ErrNotFound)
	// ErrInvitationNotFound is returned for an unknown or already used token
	ErrInvitationNotFound = fmt.Errorf("invitation %w", postgres.ErrNotFound)
	// ErrInvitationExpired is returned when accepting after invitation_expires_at
	ErrInvitationExpired = errors.New("invitation expired")
)

// Tenant is an isolated workspace owned by one user
type Tenant struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Domain    *string   `json:"domain,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOwnedBy reports whether userID owns the tenant
func (t *Tenant) IsOwnedBy(userID int64) bool {
	return t != nil && t.UserID == userID
}

// MembershipStatus is the state of a tenant_user row
type MembershipStatus string

const (
	MembershipStatusActive  MembershipStatus = "active"
	MembershipStatusPending MembershipStatus = "pending"
)

// Membership grants a user a role within one tenant.
//
// Permissions is an optional per-membership override set. A nil slice means
// no override; an empty slice is an explicit empty override.
type Membership struct {
	ID                  int64            `json:"id"`
	TenantID            int64            `json:"tenant_id"`
	UserID              int64            `json:"user_id"`
	Role                string           `json:"role"`
	Permissions         []string         `json:"permissions,omitempty"`
	Status              MembershipStatus `json:"status"`
	InvitedBy           *int64           `json:"invited_by,omitempty"`
	InvitedAt           *time.Time       `json:"invited_at,omitempty"`
	InvitationExpiresAt *time.Time       `json:"invitation_expires_at,omitempty"`
	JoinedAt            *time.Time       `json:"joined_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsActive reports whether the membership currently grants access
func (m *Membership) IsActive() bool {
	return m != nil && m.Status == MembershipStatusActive
}

// Invitation is a pending membership plus the one-time token that accepts it.
// The token is only available at creation; the store keeps its hash.
type Invitation struct {
	Membership *Membership `json:"membership"`
	Token      string      `json:"token"`
}

// UpdateTenantRequest holds the mutable tenant fields. Nil fields are left
// unchanged; ClearDomain removes the custom domain.
type UpdateTenantRequest struct {
	Name        *string `json:"name,omitempty"`
	Slug        *string `json:"slug,omitempty"`
	Domain      *string `json:"domain,omitempty"`
	ClearDomain bool    `json:"clear_domain,omitempty"`
}

// UpdateMemberRequest changes a membership. A nil Permissions leaves the
// override untouched; ClearPermissions removes it.
type UpdateMemberRequest struct {
	Role             *string  `json:"role,omitempty"`
	Permissions      []string `json:"permissions,omitempty"`
	ClearPermissions bool     `json:"clear_permissions,omitempty"`
}

// ListFilter narrows an administrative tenant listing
type ListFilter struct {
	Search   string
	IsActive *bool
	OwnerID  *int64
	Limit    int
	Offset   int
}
