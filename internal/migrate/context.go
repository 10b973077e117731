package migrate

import (
	"context"
	"database/sql"
	"log/slog"
)

// Queryer is the part of *sql.DB, *sql.Tx and *sql.Conn that steps use.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is a standalone connection handed to exactly one unscoped step.
type Conn interface {
	Queryer
	Close() error
}

// Savepoint marks a point inside the ambient transaction that a failed
// scoped step is rolled back to.
type Savepoint interface {
	Release(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store hands out the database handles steps run against. The caller that
// opened the ambient transaction is the only one that may commit or roll it
// back; the executor only uses it.
type Store interface {
	// Ambient returns the transaction shared by every scoped step of the run.
	Ambient() (Queryer, error)
	// Savepoint opens a nested unit of work on the ambient transaction.
	Savepoint(ctx context.Context, name string) (Savepoint, error)
	// OpenStandalone opens a dedicated connection outside any transaction.
	OpenStandalone(ctx context.Context) (Conn, error)
}

// Context is what a step is built from. Scoped steps share one Context for
// the whole run; unscoped steps get a fresh one each.
type Context struct {
	RunID         string
	Plan          *Plan
	Mode          Mode
	DB            Queryer
	Logger        *slog.Logger
	Notifications *Notifications
}

// Notify publishes a change notification unless notifications are suppressed.
func (mc *Context) Notify(ctx context.Context, n Notification) error {
	if mc.Notifications == nil {
		return nil
	}
	return mc.Notifications.Publish(ctx, mc.DB, n)
}
