package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// Store handles role and permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const roleColumns = `r.id, r.name, r.guard_name, r.label, r.description, r.created_at, r.updated_at,
	COALESCE((SELECT array_agg(p.name ORDER BY p.name) FROM role_has_permissions rp
		JOIN permissions p ON p.id = rp.permission_id WHERE rp.role_id = r.id), '{}')`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	var role Role
	var perms pq.StringArray
	err := row.Scan(&role.ID, &role.Name, &role.GuardName, &role.Label, &role.Description,
		&role.CreatedAt, &role.UpdatedAt, &perms)
	if err != nil {
		return nil, err
	}
	role.Permissions = []string(perms)
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	return &role, nil
}

// CreateRole validates req and inserts the role together with its
// permissions. An unknown permission name aborts the whole operation.
func (s *Store) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	v := validation.New()
	name := v.RoleName("name", req.Name)
	guard := defaultGuard(req.GuardName)
	v.OneOf("guard_name", guard, Guards...)
	v.MaxLength("label", req.Label, validation.MaxNameLength)
	perms := v.PermissionNames("permissions", req.Permissions)
	if err := v.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	role := &Role{Name: name, GuardName: guard, Label: req.Label, Description: req.Description, CreatedAt: now, UpdatedAt: now}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (name, guard_name, label, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`, name, guard, req.Label, req.Description, now).Scan(&role.ID)
	if err != nil {
		if _, ok := postgres.IsUniqueViolation(err); ok {
			return nil, validation.NewFieldError("name", validation.RuleUnique, "name has already been taken")
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	if err := replaceRolePermissions(ctx, tx, role.ID, guard, perms); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	role.Permissions = sortedCopy(perms)
	return role, nil
}

// UpsertRole creates the role named req.Name or refreshes its guard, label
// and description, then replaces its permissions with req.Permissions from
// that guard
func (s *Store) UpsertRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	v := validation.New()
	name := v.RoleName("name", req.Name)
	guard := defaultGuard(req.GuardName)
	v.OneOf("guard_name", guard, Guards...)
	perms := v.PermissionNames("permissions", req.Permissions)
	if err := v.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (name, guard_name, label, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET guard_name = EXCLUDED.guard_name, label = EXCLUDED.label,
			description = EXCLUDED.description, updated_at = NOW()
		RETURNING id
	`, name, guard, req.Label, req.Description).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert role: %w", err)
	}

	if err := replaceRolePermissions(ctx, tx, id, guard, perms); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetRole(ctx, id)
}

// GetRole retrieves a role with its permissions
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its exact name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists roles ordered by name. An empty guard lists every guard.
func (s *Store) ListRoles(ctx context.Context, guard string) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE ($1 = '' OR r.guard_name = $1) ORDER BY r.name`

	rows, err := s.db.QueryContext(ctx, query, guard)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole changes a role's name, label or description
func (s *Store) UpdateRole(ctx context.Context, id int64, req UpdateRoleRequest) (*Role, error) {
	v := validation.New()
	setClauses := []string{}
	args := []interface{}{}

	if req.Name != nil {
		args = append(args, v.RoleName("name", *req.Name))
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", len(args)))
	}
	if req.Label != nil {
		v.MaxLength("label", *req.Label, validation.MaxNameLength)
		args = append(args, *req.Label)
		setClauses = append(setClauses, fmt.Sprintf("label = $%d", len(args)))
	}
	if req.Description != nil {
		args = append(args, *req.Description)
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", len(args)))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	if len(setClauses) == 0 {
		return s.GetRole(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE roles SET %s, updated_at = NOW() WHERE id = $%d`, strings.Join(setClauses, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if _, ok := postgres.IsUniqueViolation(err); ok {
			return nil, validation.NewFieldError("name", validation.RuleUnique, "name has already been taken")
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}

	return s.GetRole(ctx, id)
}

// SyncPermissions replaces the role's permission set with names. The role
// row is locked for the duration so concurrent syncs serialize; any unknown
// name aborts before the existing set is touched. Applying the same names
// twice leaves the same set.
func (s *Store) SyncPermissions(ctx context.Context, roleID int64, names []string) (*Role, error) {
	v := validation.New()
	names = v.PermissionNames("permissions", names)
	if err := v.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var guard string
	err = tx.QueryRowContext(ctx, `SELECT guard_name FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&guard)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock role: %w", err)
	}

	if err := replaceRolePermissions(ctx, tx, roleID, guard, names); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID); err != nil {
		return nil, fmt.Errorf("failed to touch role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetRole(ctx, roleID)
}

// replaceRolePermissions resolves names within guard and swaps the role's
// set. Must run inside the caller's transaction.
func replaceRolePermissions(ctx context.Context, tx queryer, roleID int64, guard string, names []string) error {
	ids, err := resolvePermissionIDs(ctx, tx, guard, names)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_has_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO role_has_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])
	`, roleID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to attach role permissions: %w", err)
	}
	return nil
}

// resolvePermissionIDs maps names to IDs and reports every unknown name as
// a field error
func resolvePermissionIDs(ctx context.Context, q queryer, guard string, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name FROM permissions WHERE guard_name = $1 AND name = ANY($2)`, guard, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	defer rows.Close()

	found := make(map[string]int64, len(names))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		found[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	v := validation.New()
	ids := make([]int64, 0, len(names))
	for i, name := range names {
		id, ok := found[name]
		if !ok {
			v.Add(fmt.Sprintf("permissions.%d", i), validation.RuleExists, fmt.Sprintf("permission %s does not exist", name))
			continue
		}
		ids = append(ids, id)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteRole removes a role. A role still assigned to a user or used as a
// tenant membership role is not deleted.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock role: %w", err)
	}

	var users, members int64
	err = tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM user_roles WHERE role_id = $1),
			(SELECT COUNT(*) FROM tenant_user WHERE role = $2)
	`, id, name).Scan(&users, &members)
	if err != nil {
		return fmt.Errorf("failed to count role usage: %w", err)
	}
	if users > 0 || members > 0 {
		return validation.NewFieldError("role", validation.RuleInUse,
			fmt.Sprintf("role %s is assigned to %d users and %d tenant memberships", name, users, members))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return tx.Commit()
}

// CreatePermission registers a permission
func (s *Store) CreatePermission(ctx context.Context, req CreatePermissionRequest) (*Permission, error) {
	v := validation.New()
	name := v.PermissionName("name", req.Name)
	guard := defaultGuard(req.GuardName)
	v.OneOf("guard_name", guard, Guards...)
	v.MaxLength("label", req.Label, validation.MaxNameLength)
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &Permission{Name: name, GuardName: guard, Label: req.Label, CreatedAt: now, UpdatedAt: now}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, guard_name, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, name, guard, req.Label, now).Scan(&p.ID)
	if err != nil {
		if _, ok := postgres.IsUniqueViolation(err); ok {
			return nil, validation.NewFieldError("name", validation.RuleUnique, "name has already been taken")
		}
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return p, nil
}

// UpsertPermission registers a permission or refreshes its label
func (s *Store) UpsertPermission(ctx context.Context, req CreatePermissionRequest) (*Permission, error) {
	v := validation.New()
	name := v.PermissionName("name", req.Name)
	guard := defaultGuard(req.GuardName)
	v.OneOf("guard_name", guard, Guards...)
	if err := v.Err(); err != nil {
		return nil, err
	}

	p := &Permission{Name: name, GuardName: guard, Label: req.Label}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, guard_name, label)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, guard_name) DO UPDATE SET label = EXCLUDED.label, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, name, guard, req.Label).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert permission: %w", err)
	}
	return p, nil
}

// ListPermissions lists permissions ordered by name. An empty guard lists
// every guard.
func (s *Store) ListPermissions(ctx context.Context, guard string) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, guard_name, label, created_at, updated_at
		FROM permissions
		WHERE ($1 = '' OR guard_name = $1)
		ORDER BY name, guard_name
	`, guard)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []*Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.GuardName, &p.Label, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// AssignRole gives a user a role. Assigning a held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return validation.NewFieldError("role_id", validation.RuleExists, "user or role does not exist")
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from a user. Revoking an unheld role is a no-op.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// GivePermission grants a permission to a user directly
func (s *Store) GivePermission(ctx context.Context, userID int64, name, guard string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_id)
		SELECT $1, id FROM permissions WHERE name = $2 AND guard_name = $3
		ON CONFLICT (user_id, permission_id) DO NOTHING
	`, userID, name, defaultGuard(guard))
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return validation.NewFieldError("user_id", validation.RuleExists, "user does not exist")
		}
		return fmt.Errorf("failed to give permission: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either unknown or already held
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1 AND guard_name = $2)`, name, defaultGuard(guard)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check permission: %w", err)
		}
		if !exists {
			return validation.NewFieldError("permission", validation.RuleExists, fmt.Sprintf("permission %s does not exist", name))
		}
	}
	return nil
}

// RevokePermission removes a directly granted permission
func (s *Store) RevokePermission(ctx context.Context, userID int64, name, guard string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = $1 AND permission_id IN (SELECT id FROM permissions WHERE name = $2 AND guard_name = $3)
	`, userID, name, defaultGuard(guard))
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

// LoadGrants reads the role registry of guard
func (s *Store) LoadGrants(ctx context.Context, guard string) (*Grants, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, p.name
		FROM roles r
		LEFT JOIN role_has_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE r.guard_name = $1
	`, guard)
	if err != nil {
		return nil, fmt.Errorf("failed to load role grants: %w", err)
	}
	defer rows.Close()

	roles := map[string][]string{}
	for rows.Next() {
		var role string
		var perm sql.NullString
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		if _, ok := roles[role]; !ok {
			roles[role] = []string{}
		}
		if perm.Valid {
			roles[role] = append(roles[role], perm.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var all pq.StringArray
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(array_agg(name), '{}') FROM permissions WHERE guard_name = $1`, guard).Scan(&all)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}

	return NewGrants(roles, all...), nil
}

// LoadSubject reads the roles and permissions assigned directly to userID
// within guard
func (s *Store) LoadSubject(ctx context.Context, userID int64, guard string) (roles, permissions []string, err error) {
	var r, p pq.StringArray
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT array_agg(r.name) FROM user_roles ur JOIN roles r ON r.id = ur.role_id
				WHERE ur.user_id = $1 AND r.guard_name = $2), '{}'),
			COALESCE((SELECT array_agg(p.name) FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
				WHERE up.user_id = $1 AND p.guard_name = $2), '{}')
	`, userID, guard).Scan(&r, &p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user grants: %w", err)
	}
	return []string(r), []string(p), nil
}

func defaultGuard(guard string) string {
	guard = strings.TrimSpace(guard)
	if guard == "" {
		return GuardWeb
	}
	return guard
}

func sortedCopy(names []string) []string {
	set := permissionSet{}
	set.add(names...)
	return set.sorted()
}
