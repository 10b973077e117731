// Package state remembers which state each plan reached, so the next run
// resumes from there.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lockplane/lockstep/internal/migrate"
)

// DefaultTable is the table TableTracker keeps states in.
const DefaultTable = "lockstep_state"

// Entry is the stored state of one plan.
type Entry struct {
	Plan      string    `json:"plan"`
	State     string    `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker reads and records the current state of plans.
type Tracker interface {
	// Current returns the stored entry for plan. ok is false when the plan
	// has never run; callers then start from migrate.Origin.
	Current(ctx context.Context, plan string) (entry Entry, ok bool, err error)
	Save(ctx context.Context, entry Entry) error
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableTracker keeps states in a database table. Bind it to the run's
// transaction before saving so the new state commits together with the
// scoped steps that produced it.
type TableTracker struct {
	q     migrate.Queryer
	table string
}

func NewTableTracker(q migrate.Queryer, table string) (*TableTracker, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid state table name %q", table)
	}
	return &TableTracker{q: q, table: table}, nil
}

// Bind returns a tracker on the same table that uses q.
func (t *TableTracker) Bind(q migrate.Queryer) *TableTracker {
	return &TableTracker{q: q, table: t.table}
}

// Ensure creates the table if it does not exist.
func (t *TableTracker) Ensure(ctx context.Context) error {
	_, err := t.q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+t.table+` (
	plan TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	run_id TEXT,
	updated_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("failed to create state table %s: %w", t.table, err)
	}
	return nil
}

func (t *TableTracker) Current(ctx context.Context, plan string) (Entry, bool, error) {
	var (
		entry     = Entry{Plan: plan}
		runID     sql.NullString
		updatedAt string
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT state, run_id, updated_at FROM `+t.table+` WHERE plan = $1`, plan,
	).Scan(&entry.State, &runID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read state of plan %q: %w", plan, err)
	}
	entry.RunID = runID.String
	if entry.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Entry{}, false, fmt.Errorf("state of plan %q has a bad timestamp %q: %w", plan, updatedAt, err)
	}
	return entry, true, nil
}

func (t *TableTracker) Save(ctx context.Context, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO `+t.table+` (plan, state, run_id, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (plan) DO UPDATE SET state = excluded.state, run_id = excluded.run_id, updated_at = excluded.updated_at`,
		entry.Plan, entry.State, entry.RunID, entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save state of plan %q: %w", entry.Plan, err)
	}
	return nil
}
