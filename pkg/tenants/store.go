package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// Directory is the read side of the tenant store used by the switcher and
// the access checker
type Directory interface {
	Get(ctx context.Context, id int64) (*Tenant, error)
	FindMembership(ctx context.Context, tenantID, userID int64) (*Membership, error)
	FirstAccessibleTenant(ctx context.Context, userID int64) (*Tenant, error)
}

const tenantColumns = `t.id, t.user_id, t.name, t.slug, t.domain, t.is_active, t.created_at, t.updated_at`

// PostgresStore implements tenant and membership persistence
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var t Tenant
	var domain sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Slug, &domain, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if domain.Valid {
		d := domain.String
		t.Domain = &d
	}
	return &t, nil
}

// Create inserts a tenant owned by t.UserID. A missing slug is derived from
// the name.
func (s *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	v := validation.New()
	t.Name = v.Required("name", t.Name)
	v.MaxLength("name", t.Name, validation.MaxNameLength)
	if strings.TrimSpace(t.Slug) == "" {
		t.Slug = generateSlug(t.Name)
	}
	t.Slug = v.Slug("slug", t.Slug)
	t.Domain = validateDomain(v, t.Domain)
	if t.UserID <= 0 {
		v.Add("user_id", validation.RuleRequired, "user_id is required")
	}
	if err := v.Err(); err != nil {
		return err
	}

	query := `
		INSERT INTO tenants (user_id, name, slug, domain, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		RETURNING id
	`
	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, t.UserID, t.Name, t.Slug, t.Domain, now).Scan(&t.ID)
	if err != nil {
		if verr := uniqueTenantError(err); verr != nil {
			return verr
		}
		if postgres.IsForeignKeyViolation(err) {
			return validation.NewFieldError("user_id", validation.RuleExists, "owner does not exist")
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	t.IsActive = true
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// Get retrieves a tenant by ID, active or not
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Tenant, error) {
	return s.getBy(ctx, "t.id = $1", id)
}

// GetBySlug retrieves a tenant by slug
func (s *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.getBy(ctx, "t.slug = $1", slug)
}

// GetByDomain retrieves a tenant by custom domain
func (s *PostgresStore) GetByDomain(ctx context.Context, domain string) (*Tenant, error) {
	return s.getBy(ctx, "t.domain = $1", strings.ToLower(strings.TrimSpace(domain)))
}

func (s *PostgresStore) getBy(ctx context.Context, cond string, arg interface{}) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants t WHERE ` + cond

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrTenantNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// List returns tenants matching filter ordered by ID
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Tenant, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(t.name ILIKE $%d OR t.slug ILIKE $%d)", len(args), len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conditions = append(conditions, fmt.Sprintf("t.is_active = $%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("t.user_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM tenants t WHERE %s ORDER BY t.id ASC LIMIT $%d OFFSET $%d`,
		tenantColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	return s.queryTenants(ctx, "list tenants", query, args...)
}

// ListForUser returns every tenant the user owns or actively belongs to,
// owned tenants first
func (s *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]*Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants t
		LEFT JOIN tenant_user tu ON tu.tenant_id = t.id AND tu.user_id = $1 AND tu.status = 'active'
		WHERE t.user_id = $1 OR tu.id IS NOT NULL
		ORDER BY (t.user_id = $1) DESC, t.id ASC
	`
	return s.queryTenants(ctx, "list tenants for user", query, userID)
}

// FirstAccessibleTenant picks the fallback tenant for a session without a
// current tenant: the active owned tenant with the lowest ID, else the
// active tenant of the membership the user joined first. It returns nil
// when the user can reach no active tenant.
func (s *PostgresStore) FirstAccessibleTenant(ctx context.Context, userID int64) (*Tenant, error) {
	owned := `
		SELECT ` + tenantColumns + `
		FROM tenants t
		WHERE t.user_id = $1 AND t.is_active = TRUE
		ORDER BY t.id ASC
		LIMIT 1
	`
	t, err := scanTenant(s.db.QueryRowContext(ctx, owned, userID))
	if err == nil {
		return t, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find owned tenant: %w", err)
	}

	member := `
		SELECT ` + tenantColumns + `
		FROM tenant_user tu
		JOIN tenants t ON t.id = tu.tenant_id
		WHERE tu.user_id = $1 AND tu.status = 'active' AND t.is_active = TRUE
		ORDER BY COALESCE(tu.joined_at, tu.created_at) ASC, tu.id ASC
		LIMIT 1
	`
	t, err = scanTenant(s.db.QueryRowContext(ctx, member, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member tenant: %w", err)
	}
	return t, nil
}

// Update applies the non-nil fields of req and returns the stored tenant
func (s *PostgresStore) Update(ctx context.Context, id int64, req UpdateTenantRequest) (*Tenant, error) {
	v := validation.New()
	setClauses := []string{}
	args := []interface{}{}

	if req.Name != nil {
		name := v.Required("name", *req.Name)
		v.MaxLength("name", name, validation.MaxNameLength)
		args = append(args, name)
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", len(args)))
	}
	if req.Slug != nil {
		args = append(args, v.Slug("slug", *req.Slug))
		setClauses = append(setClauses, fmt.Sprintf("slug = $%d", len(args)))
	}
	if req.ClearDomain {
		setClauses = append(setClauses, "domain = NULL")
	} else if req.Domain != nil {
		args = append(args, validateDomain(v, req.Domain))
		setClauses = append(setClauses, fmt.Sprintf("domain = $%d", len(args)))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	if len(setClauses) == 0 {
		return s.Get(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tenants t SET %s, updated_at = NOW() WHERE t.id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), len(args), tenantColumns)

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrTenantNotFound, id)
	}
	if err != nil {
		if verr := uniqueTenantError(err); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return t, nil
}

// Suspend deactivates a tenant. Members keep their rows but cannot switch
// into it.
func (s *PostgresStore) Suspend(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

// Activate reverses Suspend
func (s *PostgresStore) Activate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *PostgresStore) setActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	return requireRow(result, ErrTenantNotFound, id)
}

// Delete removes a tenant together with its memberships and settings
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_user WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_settings WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant settings: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if err := requireRow(result, ErrTenantNotFound, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) queryTenants(ctx context.Context, op, query string, args ...interface{}) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func requireRow(result sql.Result, notFound error, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", notFound, id)
	}
	return nil
}

func uniqueTenantError(err error) error {
	constraint, ok := postgres.IsUniqueViolation(err)
	if !ok {
		return nil
	}
	field := "slug"
	if strings.Contains(constraint, "domain") {
		field = "domain"
	}
	return validation.NewFieldError(field, validation.RuleUnique, fmt.Sprintf("%s has already been taken", field))
}

func validateDomain(v *validation.ValidationError, domain *string) *string {
	if domain == nil {
		return nil
	}
	d := strings.ToLower(strings.TrimSpace(*domain))
	if d == "" {
		return nil
	}
	v.MaxLength("domain", d, validation.MaxNameLength)
	if strings.ContainsAny(d, " /:@") || !strings.Contains(d, ".") {
		v.Add("domain", validation.RuleFormat, "domain must be a bare host name such as acme.example.com")
	}
	return &d
}

// generateSlug derives a URL slug from a display name
func generateSlug(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Store is the full tenant and membership persistence API
type Store interface {
	Directory

	Create(ctx context.Context, t *Tenant) error
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByDomain(ctx context.Context, domain string) (*Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]*Tenant, error)
	ListForUser(ctx context.Context, userID int64) ([]*Tenant, error)
	Update(ctx context.Context, id int64, req UpdateTenantRequest) (*Tenant, error)
	Suspend(ctx context.Context, id int64) error
	Activate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error

	ListMembers(ctx context.Context, tenantID int64) ([]*Membership, error)
	GetMembership(ctx context.Context, tenantID, userID int64) (*Membership, error)
	AddMember(ctx context.Context, tenantID, userID int64, role string, permissions []string) (*Membership, error)
	UpdateMember(ctx context.Context, tenantID, userID int64, req UpdateMemberRequest) (*Membership, error)
	RemoveMember(ctx context.Context, tenantID, userID int64) error
	Invite(ctx context.Context, tenantID, userID int64, role string, invitedBy int64, ttl time.Duration) (*Invitation, error)
	AcceptInvitation(ctx context.Context, token string, userID int64) (*Membership, error)
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

var _ Store = (*PostgresStore)(nil)
