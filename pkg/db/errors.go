package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether the provided error is a unique constraint
// violation. Postgres errors are matched on SQLSTATE and constraint name; other
// drivers (sqlite in tests) fall back to message matching.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != uniqueViolationCode {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		// sqlite reports table.column rather than the constraint name
		return true
	}
	if !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}
