package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Executor runs plans against a Store. One Execute call is a single
// sequential run; callers serialize runs against the same database.
type Executor struct {
	store     Store
	builder   Builder
	logger    *slog.Logger
	publisher Publisher
	now       func() time.Time
	newRunID  func() string
	validate  func(*Plan) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for progress lines and handed to steps.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher routes step notifications to publisher.
func WithPublisher(publisher Publisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

// WithClock overrides time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunID overrides the run id generator.
func WithRunID(newRunID func() string) Option {
	return func(e *Executor) {
		if newRunID != nil {
			e.newRunID = newRunID
		}
	}
}

// NewExecutor returns an executor that builds steps with builder and runs
// them against store.
func NewExecutor(store Store, builder Builder, opts ...Option) *Executor {
	e := &Executor{
		store:    store,
		builder:  builder,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
		validate: (*Plan).Validate,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs plan from fromState until a final state is reached or a step
// fails. An invalid plan or unknown starting state is returned as an error
// before any step runs. Anything that goes wrong after that is reported in
// the Result, never as the error.
func (e *Executor) Execute(ctx context.Context, plan *Plan, fromState string) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: plan is nil", ErrPlanInvalid)
	}
	if err := e.validate(plan); err != nil {
		return nil, err
	}

	runID := e.newRunID()
	logger := e.logger.With("plan", plan.Name(), "run_id", runID)
	result := &Result{
		RunID:        runID,
		Plan:         plan.Name(),
		InitialState: fromState,
		StartedAt:    e.now(),
	}

	logger.Info("starting migration plan")
	logger.Info("at state", "state", stateLabel(fromState))

	transition, ok := plan.Transition(fromState)
	if !ok {
		if plan.IsFinal(fromState) {
			logger.Info("migration plan done", "final_state", stateLabel(fromState), "steps", 0)
			return e.finish(result, fromState, nil), nil
		}
		return nil, fmt.Errorf("%w: %s is not a state of plan %q", ErrUnknownInitialState, displayState(fromState), plan.Name())
	}

	r := &run{
		executor:      e,
		plan:          plan,
		runID:         runID,
		logger:        logger,
		notifications: NewNotifications(e.publisher, logger),
	}
	defer func() { result.NotificationsDropped = r.notifications.Dropped() }()

	var state string
	for {
		logger.Info("executing step",
			"kind", transition.Kind.Name,
			"mode", transition.Kind.Mode.String(),
			"from", stateLabel(transition.Source),
			"to", stateLabel(transition.Target),
		)
		if err := r.dispatch(ctx, transition); err != nil {
			logger.Error("migration plan stopped", "state", stateLabel(transition.Source), "error", err)
			return e.finish(result, transition.Source, err), nil
		}

		result.CompletedTransitions = append(result.CompletedTransitions, transition)
		state = transition.Target
		logger.Info("at state", "state", stateLabel(state))

		if plan.IsFinal(state) {
			break
		}
		next, ok := plan.Transition(state)
		if !ok {
			// Validate guarantees this cannot happen.
			err := fmt.Errorf("%w: state %s reached by %s is neither final nor the source of a transition",
				ErrInternalConsistency, displayState(state), transition.Kind.Name)
			logger.Error("migration plan stopped", "state", stateLabel(state), "error", err)
			return e.finish(result, state, err), nil
		}
		transition = next
	}

	logger.Info("migration plan done", "final_state", stateLabel(state), "steps", len(result.CompletedTransitions))
	return e.finish(result, state, nil), nil
}

func (e *Executor) finish(result *Result, finalState string, err error) *Result {
	result.FinalState = finalState
	result.Successful = err == nil
	result.Err = err
	result.FinishedAt = e.now()
	return result
}

func stateLabel(state string) string {
	if state == Origin {
		return "origin"
	}
	return state
}
