package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// run holds what one Execute call shares between its steps.
type run struct {
	executor      *Executor
	plan          *Plan
	runID         string
	logger        *slog.Logger
	steps         int
	notifications *Notifications

	// built on the first scoped step, reused by the rest
	ambient *Context
}

// dispatch runs t in the mode its kind declares.
func (r *run) dispatch(ctx context.Context, t Transition) error {
	r.steps++
	switch t.Kind.Mode {
	case ModeScoped:
		return r.runScoped(ctx, t)
	case ModeUnscoped:
		return r.runUnscoped(ctx, t)
	default:
		return &StepError{Transition: t, Phase: PhaseBuild, Err: fmt.Errorf("unsupported step mode %s", t.Kind.Mode)}
	}
}

// runUnscoped gives the step its own connection and closes it whatever
// happens. Notifications are not suppressed; the step owns its consistency.
func (r *run) runUnscoped(ctx context.Context, t Transition) error {
	conn, err := r.executor.store.OpenStandalone(ctx)
	if err != nil {
		return &StepError{Transition: t, Phase: PhaseBuild, Err: fmt.Errorf("open standalone connection: %w", err)}
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warn("closing standalone connection failed", "kind", t.Kind.Name, "error", cerr)
		}
	}()

	mc := &Context{
		RunID:         r.runID,
		Plan:          r.plan,
		Mode:          ModeUnscoped,
		DB:            conn,
		Logger:        r.logger.With("kind", t.Kind.Name),
		Notifications: r.notifications,
	}
	step, err := r.build(t, mc)
	if err != nil {
		return err
	}
	return r.invoke(ctx, t, step)
}

// runScoped runs the step on the ambient transaction inside a savepoint with
// notifications suppressed. A failed step is rolled back to its savepoint;
// the transaction itself is left for the caller to commit or roll back.
func (r *run) runScoped(ctx context.Context, t Transition) error {
	mc, err := r.ambientContext()
	if err != nil {
		return &StepError{Transition: t, Phase: PhaseBuild, Err: err}
	}

	sp, err := r.executor.store.Savepoint(ctx, fmt.Sprintf("step_%d", r.steps))
	if err != nil {
		return &StepError{Transition: t, Phase: PhaseBuild, Err: fmt.Errorf("open savepoint: %w", err)}
	}

	restore := mc.Notifications.Suppress()
	defer restore()

	step, err := r.build(t, mc)
	if err == nil {
		err = r.invoke(ctx, t, step)
	}
	if err != nil {
		if rerr := sp.Rollback(ctx); rerr != nil {
			var stepErr *StepError
			if errors.As(err, &stepErr) {
				stepErr.Err = errors.Join(stepErr.Err, fmt.Errorf("roll back to savepoint: %w", rerr))
			}
		}
		return err
	}
	if err := sp.Release(ctx); err != nil {
		// The step's work must not outlive a step reported as failed.
		err = fmt.Errorf("release savepoint: %w", err)
		if rerr := sp.Rollback(ctx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("roll back to savepoint: %w", rerr))
		}
		return &StepError{Transition: t, Phase: PhaseRun, Err: err}
	}
	return nil
}

func (r *run) ambientContext() (*Context, error) {
	if r.ambient != nil {
		return r.ambient, nil
	}
	db, err := r.executor.store.Ambient()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, ErrNoAmbientTransaction
	}
	r.ambient = &Context{
		RunID:         r.runID,
		Plan:          r.plan,
		Mode:          ModeScoped,
		DB:            db,
		Logger:        r.logger,
		Notifications: r.notifications,
	}
	return r.ambient, nil
}

func (r *run) build(t Transition, mc *Context) (step Step, err error) {
	defer func() {
		if p := recover(); p != nil {
			step, err = nil, &StepError{Transition: t, Phase: PhaseBuild, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	step, err = r.executor.builder.Build(t.Kind, mc)
	if err != nil {
		return nil, &StepError{Transition: t, Phase: PhaseBuild, Err: err}
	}
	return step, nil
}

func (r *run) invoke(ctx context.Context, t Transition, step Step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &StepError{Transition: t, Phase: PhaseRun, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := step.Run(ctx); err != nil {
		return &StepError{Transition: t, Phase: PhaseRun, Err: err}
	}
	return nil
}
