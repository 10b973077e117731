package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the runner cares about.
const (
	SQLStateActiveTransaction = "25001"
	SQLStateLockNotAvailable  = "55P03"
)

// SQLState returns the SQLSTATE carried by err, whichever Postgres driver
// produced it, or "" if err carries none.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsActiveTransactionError reports whether err was raised by a statement
// that refuses to run inside a transaction block, such as
// CREATE INDEX CONCURRENTLY. The fix is to mark the step unscoped.
func IsActiveTransactionError(err error) bool {
	if err == nil {
		return false
	}
	if SQLState(err) == SQLStateActiveTransaction {
		return true
	}
	return strings.Contains(err.Error(), "cannot run inside a transaction block") ||
		strings.Contains(err.Error(), "cannot VACUUM from within a transaction")
}

// IsLockTimeoutError reports whether err came from lock_timeout expiring.
func IsLockTimeoutError(err error) bool {
	return err != nil && SQLState(err) == SQLStateLockNotAvailable
}
