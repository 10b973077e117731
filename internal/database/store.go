package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lockplane/lockstep/internal/migrate"
)

// Store implements migrate.Store over a pool and a transaction the caller
// opened on it. The caller commits or rolls back the transaction; Store
// never does.
type Store struct {
	db    *sql.DB
	tx    *sql.Tx
	setup []string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStandaloneSetup runs stmts on every standalone connection before it
// is handed to a step, e.g. "SET lock_timeout = '30s'".
func WithStandaloneSetup(stmts ...string) StoreOption {
	return func(s *Store) {
		s.setup = append(s.setup, stmts...)
	}
}

// NewStore wraps db and the ambient transaction tx. tx may be nil when a
// plan only has unscoped steps.
func NewStore(db *sql.DB, tx *sql.Tx, opts ...StoreOption) *Store {
	s := &Store{db: db, tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin opens the ambient transaction on db and returns a Store around it.
func Begin(ctx context.Context, db *sql.DB, opts ...StoreOption) (*Store, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return NewStore(db, tx, opts...), nil
}

// Tx returns the ambient transaction.
func (s *Store) Tx() *sql.Tx {
	return s.tx
}

// Commit commits the ambient transaction.
func (s *Store) Commit() error {
	if s.tx == nil {
		return migrate.ErrNoAmbientTransaction
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the ambient transaction. Rolling back a transaction
// that is already done is not an error.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (s *Store) Ambient() (migrate.Queryer, error) {
	if s.tx == nil {
		return nil, migrate.ErrNoAmbientTransaction
	}
	return s.tx, nil
}

func (s *Store) Savepoint(ctx context.Context, name string) (migrate.Savepoint, error) {
	if s.tx == nil {
		return nil, migrate.ErrNoAmbientTransaction
	}
	ident := quoteIdent("lockstep_" + name)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return nil, fmt.Errorf("failed to create savepoint %s: %w", ident, err)
	}
	return &savepoint{tx: s.tx, ident: ident}, nil
}

func (s *Store) OpenStandalone(ctx context.Context) (migrate.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	for _, stmt := range s.setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to prepare connection (%s): %w", stmt, err)
		}
	}
	return conn, nil
}

type savepoint struct {
	tx    *sql.Tx
	ident string
}

func (sp *savepoint) Release(ctx context.Context) error {
	if _, err := sp.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.ident); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", sp.ident, err)
	}
	return nil
}

func (sp *savepoint) Rollback(ctx context.Context) error {
	if _, err := sp.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.ident); err != nil {
		return fmt.Errorf("failed to roll back to savepoint %s: %w", sp.ident, err)
	}
	// Postgres keeps the savepoint after ROLLBACK TO; drop it so nesting
	// does not grow across failed steps.
	if _, err := sp.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.ident); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", sp.ident, err)
	}
	return nil
}

// quoteIdent quotes an identifier for Postgres and SQLite.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
