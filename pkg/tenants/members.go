package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantadmin/pkg/session"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

const membershipColumns = `tu.id, tu.tenant_id, tu.user_id, tu.role, tu.permissions, tu.status,
	tu.invited_by, tu.invited_at, tu.invitation_expires_at, tu.joined_at, tu.created_at, tu.updated_at`

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var perms pq.StringArray
	var invitedBy sql.NullInt64
	var invitedAt, expiresAt, joinedAt sql.NullTime

	err := row.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &perms, &m.Status,
		&invitedBy, &invitedAt, &expiresAt, &joinedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// NULL scans to a nil array, '{}' to an empty one
	if perms != nil {
		m.Permissions = []string(perms)
	}
	if invitedBy.Valid {
		m.InvitedBy = &invitedBy.Int64
	}
	if invitedAt.Valid {
		m.InvitedAt = &invitedAt.Time
	}
	if expiresAt.Valid {
		m.InvitationExpiresAt = &expiresAt.Time
	}
	if joinedAt.Valid {
		m.JoinedAt = &joinedAt.Time
	}
	return &m, nil
}

// ListMembers lists every membership of a tenant, pending invitations
// included. The owner is implicit and not listed.
func (s *PostgresStore) ListMembers(ctx context.Context, tenantID int64) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM tenant_user tu WHERE tu.tenant_id = $1 ORDER BY tu.created_at ASC, tu.id ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// FindMembership returns the user's membership row in a tenant, or nil
// when there is none
func (s *PostgresStore) FindMembership(ctx context.Context, tenantID, userID int64) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM tenant_user tu WHERE tu.tenant_id = $1 AND tu.user_id = $2`

	m, err := scanMembership(s.db.QueryRowContext(ctx, query, tenantID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembership is FindMembership that reports absence as an error
func (s *PostgresStore) GetMembership(ctx context.Context, tenantID, userID int64) (*Membership, error) {
	m, err := s.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: tenant %d user %d", ErrMembershipNotFound, tenantID, userID)
	}
	return m, nil
}

// AddMember creates an active membership
func (s *PostgresStore) AddMember(ctx context.Context, tenantID, userID int64, role string, permissions []string) (*Membership, error) {
	tenant, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	v := validation.New()
	role = validateMemberRole(v, role)
	if permissions != nil {
		permissions = v.PermissionNames("permissions", permissions)
	}
	if tenant.IsOwnedBy(userID) {
		v.Add("user_id", validation.RuleReserved, "the tenant owner is already a member")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	m := &Membership{
		TenantID:    tenantID,
		UserID:      userID,
		Role:        role,
		Permissions: permissions,
		Status:      MembershipStatusActive,
		JoinedAt:    &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO tenant_user (tenant_id, user_id, role, permissions, status, joined_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query, tenantID, userID, role, nullableArray(permissions), m.Status, now).Scan(&m.ID)
	if err != nil {
		return nil, memberInsertError(err)
	}
	return m, nil
}

// UpdateMember changes a membership's role or permission override
func (s *PostgresStore) UpdateMember(ctx context.Context, tenantID, userID int64, req UpdateMemberRequest) (*Membership, error) {
	v := validation.New()
	setClauses := []string{}
	args := []interface{}{}

	if req.Role != nil {
		args = append(args, validateMemberRole(v, *req.Role))
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if req.ClearPermissions {
		setClauses = append(setClauses, "permissions = NULL")
	} else if req.Permissions != nil {
		args = append(args, pq.Array(v.PermissionNames("permissions", req.Permissions)))
		setClauses = append(setClauses, fmt.Sprintf("permissions = $%d", len(args)))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	if len(setClauses) == 0 {
		return s.GetMembership(ctx, tenantID, userID)
	}

	args = append(args, tenantID, userID)
	query := fmt.Sprintf(`UPDATE tenant_user tu SET %s, updated_at = NOW() WHERE tu.tenant_id = $%d AND tu.user_id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), len(args)-1, len(args), membershipColumns)

	m, err := scanMembership(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: tenant %d user %d", ErrMembershipNotFound, tenantID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update member: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership or pending invitation
func (s *PostgresStore) RemoveMember(ctx context.Context, tenantID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenant_user WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return requireRow(result, ErrMembershipNotFound, userID)
}

// Invite creates a pending membership. The returned token is the only copy
// of the secret; the row stores its hash.
func (s *PostgresStore) Invite(ctx context.Context, tenantID, userID int64, role string, invitedBy int64, ttl time.Duration) (*Invitation, error) {
	tenant, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	v := validation.New()
	role = validateMemberRole(v, role)
	if tenant.IsOwnedBy(userID) {
		v.Add("user_id", validation.RuleReserved, "the tenant owner is already a member")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	token, err := session.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	m := &Membership{
		TenantID:            tenantID,
		UserID:              userID,
		Role:                role,
		Status:              MembershipStatusPending,
		InvitedBy:           &invitedBy,
		InvitedAt:           &now,
		InvitationExpiresAt: &expiresAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	query := `
		INSERT INTO tenant_user (tenant_id, user_id, role, status, invited_by, invitation_token,
			invited_at, invitation_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7, $7)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query, tenantID, userID, role, m.Status, invitedBy,
		session.HashID(token), now, expiresAt).Scan(&m.ID)
	if err != nil {
		return nil, memberInsertError(err)
	}

	return &Invitation{Membership: m, Token: token}, nil
}

// AcceptInvitation activates the pending membership identified by token.
// Only the invited user may accept.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, token string, userID int64) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + membershipColumns + `
		FROM tenant_user tu
		WHERE tu.invitation_token = $1 AND tu.status = 'pending'
		FOR UPDATE`

	m, err := scanMembership(tx.QueryRowContext(ctx, query, session.HashID(token)))
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	// Another user holding the link learns nothing about the invitation
	if m.UserID != userID {
		return nil, ErrInvitationNotFound
	}
	if m.InvitationExpiresAt != nil && time.Now().After(*m.InvitationExpiresAt) {
		return nil, ErrInvitationExpired
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE tenant_user
		SET status = 'active', joined_at = $1, invitation_token = NULL, updated_at = $1
		WHERE id = $2
	`, now, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.Status = MembershipStatusActive
	m.JoinedAt = &now
	m.UpdatedAt = now
	return m, nil
}

// CleanupExpiredInvitations deletes pending invitations past their expiry
func (s *PostgresStore) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tenant_user
		WHERE status = 'pending' AND invitation_expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	return result.RowsAffected()
}

func validateMemberRole(v *validation.ValidationError, role string) string {
	role = v.RoleName("role", role)
	if role == RoleOwner {
		v.Add("role", validation.RuleReserved, "the owner role cannot be assigned")
	}
	return role
}

func memberInsertError(err error) error {
	if _, ok := postgres.IsUniqueViolation(err); ok {
		return validation.NewFieldError("user_id", validation.RuleUnique, "user is already a member of this tenant")
	}
	if postgres.IsForeignKeyViolation(err) {
		return validation.NewFieldError("user_id", validation.RuleExists, "user does not exist")
	}
	return fmt.Errorf("failed to add member: %w", err)
}

func nullableArray(values []string) interface{} {
	if values == nil {
		return nil
	}
	return pq.Array(values)
}
