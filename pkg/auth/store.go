package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

const userColumns = `id, name, email, password, type, status, plan, google_id, avatar, last_login_at, created_at, updated_at, deleted_at`

// Store handles user persistence. Soft-deleted users are invisible to every
// lookup.
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var password, googleID sql.NullString
	var lastLoginAt, deletedAt sql.NullTime

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&password,
		&u.Type,
		&u.Status,
		&u.Plan,
		&googleID,
		&u.Avatar,
		&lastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	u.PasswordHash = password.String
	if googleID.Valid {
		id := googleID.String
		u.GoogleID = &id
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

// Create inserts a new user. Type, status and plan default to user, active
// and free.
func (s *Store) Create(ctx context.Context, u *User) error {
	v := validation.New()
	u.Name = v.Required("name", u.Name)
	v.MaxLength("name", u.Name, validation.MaxNameLength)
	u.Email = v.Email("email", u.Email)
	if u.Type == "" {
		u.Type = UserTypeUser
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Plan == "" {
		u.Plan = "free"
	}
	v.OneOf("type", string(u.Type), UserTypes...)
	v.OneOf("status", string(u.Status), UserStatuses...)
	if err := v.Err(); err != nil {
		return err
	}

	query := `
		INSERT INTO users (name, email, password, type, status, plan, google_id, avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		u.Name,
		u.Email,
		nullString(u.PasswordHash),
		u.Type,
		u.Status,
		u.Plan,
		u.GoogleID,
		u.Avatar,
		now,
		now,
	).Scan(&u.ID)
	if err != nil {
		if constraint, ok := postgres.IsUniqueViolation(err); ok {
			field := "email"
			if strings.Contains(constraint, "google_id") {
				field = "google_id"
			}
			return validation.NewFieldError(field, validation.RuleUnique, fmt.Sprintf("%s has already been taken", field))
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// Get retrieves a user by ID
func (s *Store) Get(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByGoogleID retrieves the user linked to a Google account
func (s *Store) GetByGoogleID(ctx context.Context, googleID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE google_id = $1 AND deleted_at IS NULL`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, googleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: google account %s", ErrUserNotFound, googleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// List returns live users matching filter, ordered by ID
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*User, error) {
	var conditions []string
	var args []interface{}

	conditions = append(conditions, "deleted_at IS NULL")
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY id ASC LIMIT $%d OFFSET $%d`,
		userColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Authenticate verifies an email and password pair and records the login
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		return nil, err
	}
	if !u.IsActive() {
		return nil, ErrAccountInactive
	}
	if err := s.TouchLogin(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// SetPassword replaces the stored password hash
func (s *Store) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < 8 {
		return validation.NewFieldError("password", validation.RuleFormat, "password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.exec(ctx, "set password", id,
		`UPDATE users SET password = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`, hash, id)
}

// UpdateStatus changes the account state
func (s *Store) UpdateStatus(ctx context.Context, id int64, status UserStatus) error {
	v := validation.New()
	v.OneOf("status", string(status), UserStatuses...)
	if err := v.Err(); err != nil {
		return err
	}
	return s.exec(ctx, "update user status", id,
		`UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`, status, id)
}

// UpdateType changes the account class
func (s *Store) UpdateType(ctx context.Context, id int64, userType UserType) error {
	v := validation.New()
	v.OneOf("type", string(userType), UserTypes...)
	if err := v.Err(); err != nil {
		return err
	}
	return s.exec(ctx, "update user type", id,
		`UPDATE users SET type = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`, userType, id)
}

// LinkGoogle attaches a Google account to an existing user
func (s *Store) LinkGoogle(ctx context.Context, id int64, googleID, avatar string) error {
	err := s.exec(ctx, "link google account", id,
		`UPDATE users SET google_id = $1, avatar = COALESCE(NULLIF($2, ''), avatar), updated_at = NOW() WHERE id = $3 AND deleted_at IS NULL`,
		googleID, avatar, id)
	if _, ok := postgres.IsUniqueViolation(err); ok {
		return validation.NewFieldError("google_id", validation.RuleUnique, "google account is already linked to another user")
	}
	return err
}

// TouchLogin records a successful sign-in
func (s *Store) TouchLogin(ctx context.Context, id int64) error {
	return s.exec(ctx, "record login", id,
		`UPDATE users SET last_login_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
}

// SoftDelete hides a user from every lookup and deactivates the account
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	return s.exec(ctx, "delete user", id,
		`UPDATE users SET deleted_at = NOW(), status = 'inactive', updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (s *Store) exec(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
