package database

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error kinds. Every Store method wraps its failure in one of these (or
// returns a wrapped engine error), so callers branch with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("already exists")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnauthorized      = errors.New("invalid credentials")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string, key interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, what, key)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
