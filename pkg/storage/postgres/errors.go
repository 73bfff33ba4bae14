package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is wrapped by every store's record-not-found sentinel so
// transports can map them without importing each store
var ErrNotFound = errors.New("not found")

// PostgreSQL error codes the stores branch on
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a unique constraint violation and
// returns the violated constraint name
func IsUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// IsForeignKeyViolation reports whether err is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeForeignKeyViolation
}
