package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// table maps a scope onto its storage. owner is empty for global settings.
type table struct {
	name  string
	owner string
}

var tables = map[Scope]table{
	ScopeGlobal: {name: "settings"},
	ScopeUser:   {name: "user_settings", owner: "user_id"},
	ScopeTenant: {name: "tenant_settings", owner: "tenant_id"},
}

// scoped builds the owner predicate. Extra placeholders start after args.
func (t table) scoped(ownerID int64) (string, []interface{}) {
	if t.owner == "" {
		return "TRUE", nil
	}
	return t.owner + " = $1", []interface{}{ownerID}
}

const settingColumns = `id, key, value, type, group_name, description, is_public, is_encrypted, is_editable, created_at, updated_at`

// Store persists settings for every scope. Values flagged is_encrypted are
// sealed with the cipher before they reach the database.
type Store struct {
	db     *sql.DB
	cipher *Cipher
}

// NewStore creates a Store. cipher may be nil, in which case encrypted
// settings can be neither written nor read.
func NewStore(db *sql.DB, cipher *Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

func lookup(scope Scope) (table, error) {
	t, ok := tables[scope]
	if !ok {
		return table{}, validation.NewFieldError("scope", validation.RuleOneOf, "scope must be global, user or tenant")
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row rowScanner, scope Scope, ownerID int64) (*Setting, error) {
	setting := &Setting{Scope: scope, OwnerID: ownerID}
	var value sql.NullString
	err := row.Scan(
		&setting.ID, &setting.Key, &value, &setting.Type, &setting.Group, &setting.Description,
		&setting.IsPublic, &setting.IsEncrypted, &setting.IsEditable, &setting.CreatedAt, &setting.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	setting.Value = value.String

	if setting.IsEncrypted && setting.Value != "" {
		if s.cipher == nil {
			return nil, fmt.Errorf("setting %s: %w: no key configured", setting.Key, ErrDecrypt)
		}
		plaintext, err := s.cipher.Decrypt(setting.Value)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", setting.Key, err)
		}
		setting.Value = plaintext
	}
	return setting, nil
}

// Get returns one setting with its value decrypted
func (s *Store) Get(ctx context.Context, scope Scope, ownerID int64, key string) (*Setting, error) {
	t, err := lookup(scope)
	if err != nil {
		return nil, err
	}
	where, args := t.scoped(ownerID)
	args = append(args, key)

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s AND key = $%d`, settingColumns, t.name, where, len(args))
	setting, err := s.scan(s.db.QueryRowContext(ctx, query, args...), scope, ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		if errors.Is(err, ErrDecrypt) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return setting, nil
}

// List returns the settings of one owner ordered by group and key
func (s *Store) List(ctx context.Context, scope Scope, ownerID int64, filter ListFilter) ([]*Setting, error) {
	t, err := lookup(scope)
	if err != nil {
		return nil, err
	}
	where, args := t.scoped(ownerID)
	conditions := []string{where}
	if filter.Group != "" {
		args = append(args, filter.Group)
		conditions = append(conditions, fmt.Sprintf("group_name = $%d", len(args)))
	}
	if filter.PublicOnly {
		conditions = append(conditions, "is_public")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY group_name, key`,
		settingColumns, t.name, strings.Join(conditions, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var result []*Setting
	for rows.Next() {
		setting, err := s.scan(rows, scope, ownerID)
		if err != nil {
			if errors.Is(err, ErrDecrypt) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		result = append(result, setting)
	}
	return result, rows.Err()
}

// Set creates or replaces a setting. A setting stored with is_editable
// false is refused; is_editable itself only takes effect on insert.
func (s *Store) Set(ctx context.Context, setting *Setting) error {
	t, err := lookup(setting.Scope)
	if err != nil {
		return err
	}
	if err := setting.validate(); err != nil {
		return err
	}

	value := setting.Value
	if setting.IsEncrypted {
		if s.cipher == nil {
			return validation.NewFieldError("is_encrypted", validation.RuleReserved, "no settings encryption key is configured")
		}
		if value, err = s.cipher.Encrypt(value); err != nil {
			return err
		}
	}

	columns := []string{"key", "value", "type", "group_name", "description", "is_public", "is_encrypted", "is_editable"}
	args := []interface{}{
		setting.Key, value, setting.Type, setting.Group, setting.Description,
		setting.IsPublic, setting.IsEncrypted, setting.IsEditable,
	}
	conflict := "key"
	if t.owner != "" {
		columns = append([]string{t.owner}, columns...)
		args = append([]interface{}{setting.OwnerID}, args...)
		conflict = t.owner + ", key"
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, created_at, updated_at)
		VALUES (%[3]s, NOW(), NOW())
		ON CONFLICT (%[4]s) DO UPDATE SET
			value = EXCLUDED.value,
			type = EXCLUDED.type,
			group_name = EXCLUDED.group_name,
			description = EXCLUDED.description,
			is_public = EXCLUDED.is_public,
			is_encrypted = EXCLUDED.is_encrypted,
			updated_at = NOW()
		WHERE %[1]s.is_editable
		RETURNING id, is_editable, created_at, updated_at
	`, t.name, strings.Join(columns, ", "), strings.Join(placeholders, ", "), conflict)

	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&setting.ID, &setting.IsEditable, &setting.CreatedAt, &setting.UpdatedAt)
	if err == sql.ErrNoRows {
		return notEditable()
	}
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return validation.NewFieldError(t.owner, validation.RuleExists, fmt.Sprintf("%s does not exist", t.owner))
		}
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}

// Delete removes an editable setting
func (s *Store) Delete(ctx context.Context, scope Scope, ownerID int64, key string) error {
	t, err := lookup(scope)
	if err != nil {
		return err
	}
	where, args := t.scoped(ownerID)
	args = append(args, key)

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s AND key = $%d AND is_editable`, t.name, where, len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing deleted: either missing or locked
	var exists bool
	query = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s AND key = $%d)`, t.name, where, len(args))
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check setting: %w", err)
	}
	if exists {
		return notEditable()
	}
	return ErrSettingNotFound
}

func notEditable() error {
	return validation.NewFieldError("key", validation.RuleReserved, "setting is not editable")
}
