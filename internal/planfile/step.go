package planfile

import (
	"context"
	"fmt"

	"github.com/lockplane/lockstep/internal/database"
	"github.com/lockplane/lockstep/internal/migrate"
)

// NotifyChannel is the channel SQL steps announce finished work on.
const NotifyChannel = "lockstep"

// SQLStep runs a fixed list of statements on the handle its Context
// carries: the run's transaction when scoped, a standalone connection when
// unscoped.
type SQLStep struct {
	Name       string
	Statements []string
	mc         *migrate.Context
}

func (s *SQLStep) Run(ctx context.Context) error {
	for i, stmt := range s.Statements {
		s.mc.Logger.Debug("executing statement", "step", s.Name, "index", i+1, "of", len(s.Statements))
		if _, err := s.mc.DB.ExecContext(ctx, stmt); err != nil {
			switch {
			case database.IsActiveTransactionError(err):
				return fmt.Errorf("statement %d of %d cannot run in a transaction, mark step %q unscoped: %w", i+1, len(s.Statements), s.Name, err)
			case s.mc.Mode == migrate.ModeUnscoped && database.IsLockTimeoutError(err):
				return fmt.Errorf("statement %d of %d timed out waiting for a lock, possibly one this run's transaction holds; move step %q before the scoped steps or into its own run: %w", i+1, len(s.Statements), s.Name, err)
			}
			return fmt.Errorf("statement %d of %d: %w", i+1, len(s.Statements), err)
		}
	}

	// The statements have taken effect by now. A listener that cannot be
	// told must not turn applied work into a failed step.
	err := s.mc.Notify(ctx, migrate.Notification{
		Channel: NotifyChannel,
		Payload: s.mc.Plan.Name() + ":" + s.Name,
	})
	if err != nil {
		s.mc.Logger.Warn("failed to publish step notification", "step", s.Name, "error", err)
	}
	return nil
}

func sqlFactory(name string, statements []string) migrate.Factory {
	return func(mc *migrate.Context) (migrate.Step, error) {
		if mc.DB == nil {
			return nil, fmt.Errorf("step %q has no database handle", name)
		}
		return &SQLStep{Name: name, Statements: statements, mc: mc}, nil
	}
}
