// Package postgres opens the PostgreSQL and Redis connections used by the
// stores, applies schema migrations, and classifies driver errors.
package postgres
