package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPlanInvalid marks plans rejected by validation.
	ErrPlanInvalid = errors.New("invalid migration plan")

	// ErrUnknownInitialState is returned when the starting state is neither a
	// source nor a final state of the plan.
	ErrUnknownInitialState = errors.New("unknown initial state")

	// ErrInternalConsistency means a state that passed validation could not
	// be found while running. It points at a validation bug.
	ErrInternalConsistency = errors.New("internal consistency failure")

	// ErrUnknownStepKind is returned by Registry.Build for unregistered kinds.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrNoAmbientTransaction is returned when a scoped step runs but the
	// store has no transaction open.
	ErrNoAmbientTransaction = errors.New("no ambient transaction")
)

// Phase is where a step failed.
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseRun   Phase = "run"
)

// StepError is the failure cause recorded when a step cannot be built or
// fails while running.
type StepError struct {
	Transition Transition
	Phase      Phase
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s) failed to %s: %v", e.Transition.Kind.Name, e.Transition, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result describes how far a run got. FinalState is always a state the
// database actually reached.
type Result struct {
	RunID                string
	Plan                 string
	Successful           bool
	InitialState         string
	FinalState           string
	CompletedTransitions []Transition
	Err                  error
	StartedAt            time.Time
	FinishedAt           time.Time
	// NotificationsDropped counts notifications scoped steps raised while
	// delivery was suppressed.
	NotificationsDropped int
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedTransition returns the transition that failed, if a step failed.
func (r *Result) FailedTransition() (Transition, bool) {
	var stepErr *StepError
	if errors.As(r.Err, &stepErr) {
		return stepErr.Transition, true
	}
	return Transition{}, false
}

type resultJSON struct {
	RunID                string       `json:"run_id"`
	Plan                 string       `json:"plan"`
	Successful           bool         `json:"successful"`
	InitialState         string       `json:"initial_state"`
	FinalState           string       `json:"final_state"`
	CompletedTransitions []Transition `json:"completed_transitions"`
	FailedTransition     *Transition  `json:"failed_transition,omitempty"`
	Error                string       `json:"error,omitempty"`
	StartedAt            time.Time    `json:"started_at"`
	FinishedAt           time.Time    `json:"finished_at"`
	DurationMS           int64        `json:"duration_ms"`
	NotificationsDropped int          `json:"notifications_dropped"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		RunID:                r.RunID,
		Plan:                 r.Plan,
		Successful:           r.Successful,
		InitialState:         r.InitialState,
		FinalState:           r.FinalState,
		CompletedTransitions: r.CompletedTransitions,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
		DurationMS:           r.Duration().Milliseconds(),
		NotificationsDropped: r.NotificationsDropped,
	}
	if out.CompletedTransitions == nil {
		out.CompletedTransitions = []Transition{}
	}
	if t, ok := r.FailedTransition(); ok {
		out.FailedTransition = &t
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
