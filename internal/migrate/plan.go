// Package migrate runs migration plans: a chain of named states joined by
// transitions, each transition performed by one step.
package migrate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Origin is the state of a database no plan has touched yet.
const Origin = ""

// Transition moves the database from Source to Target by running a step of Kind.
type Transition struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   StepKind `json:"kind"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s (%s)", displayState(t.Source), displayState(t.Target), t.Kind.Name)
}

// Plan is an immutable table of transitions keyed by source state.
type Plan struct {
	name        string
	transitions map[string]Transition
	finals      map[string]struct{}
}

// NewPlan builds a plan from its transitions and the states it ends in.
// A source state may only appear once.
func NewPlan(name string, transitions []Transition, finals ...string) (*Plan, error) {
	p := &Plan{
		name:        name,
		transitions: make(map[string]Transition, len(transitions)),
		finals:      make(map[string]struct{}, len(finals)),
	}
	for _, t := range transitions {
		if existing, ok := p.transitions[t.Source]; ok {
			return nil, fmt.Errorf("%w: plan %q: state %s has two transitions (%s, %s)",
				ErrPlanInvalid, name, displayState(t.Source), existing.Kind.Name, t.Kind.Name)
		}
		p.transitions[t.Source] = t
	}
	for _, f := range finals {
		p.finals[f] = struct{}{}
	}
	return p, nil
}

// Name returns the plan name.
func (p *Plan) Name() string {
	return p.name
}

// Transition returns the transition leaving state.
func (p *Plan) Transition(state string) (Transition, bool) {
	t, ok := p.transitions[state]
	return t, ok
}

// IsFinal reports whether state is a declared terminal state.
func (p *Plan) IsFinal(state string) bool {
	_, ok := p.finals[state]
	return ok
}

// Finals returns the declared terminal states, sorted.
func (p *Plan) Finals() []string {
	out := make([]string, 0, len(p.finals))
	for f := range p.finals {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Knows reports whether state appears in the plan, either as a source or as a final state.
func (p *Plan) Knows(state string) bool {
	_, ok := p.transitions[state]
	return ok || p.IsFinal(state)
}

// Transitions returns every transition. Chains are walked from their first
// state so the result reads in execution order; a valid plan gives a
// deterministic ordering.
func (p *Plan) Transitions() []Transition {
	targets := make(map[string]struct{}, len(p.transitions))
	for _, t := range p.transitions {
		targets[t.Target] = struct{}{}
	}
	var heads []string
	for src := range p.transitions {
		if _, ok := targets[src]; !ok {
			heads = append(heads, src)
		}
	}
	sort.Strings(heads)

	out := make([]Transition, 0, len(p.transitions))
	seen := make(map[string]struct{}, len(p.transitions))
	for _, head := range heads {
		out = append(out, p.walk(head, seen)...)
	}
	// cycles have no head; append what is left so nothing is hidden
	var rest []string
	for src := range p.transitions {
		if _, ok := seen[src]; !ok {
			rest = append(rest, src)
		}
	}
	sort.Strings(rest)
	for _, src := range rest {
		out = append(out, p.walk(src, seen)...)
	}
	return out
}

// Path returns the transitions that would run starting at from, in order.
// It stops at a final state, an unknown state or a repeated state.
func (p *Plan) Path(from string) []Transition {
	return p.walk(from, make(map[string]struct{}))
}

func (p *Plan) walk(from string, seen map[string]struct{}) []Transition {
	var out []Transition
	state := from
	for {
		if _, ok := seen[state]; ok {
			return out
		}
		t, ok := p.transitions[state]
		if !ok {
			return out
		}
		seen[state] = struct{}{}
		out = append(out, t)
		state = t.Target
	}
}

// Validate checks the plan is a set of linear chains that all end in a
// final state. Every problem found is reported, wrapped in ErrPlanInvalid.
func (p *Plan) Validate() error {
	var problems []error
	if strings.TrimSpace(p.name) == "" {
		problems = append(problems, errors.New("plan name is required"))
	}
	if len(p.transitions) == 0 {
		problems = append(problems, errors.New("plan has no transitions"))
	}

	sources := make([]string, 0, len(p.transitions))
	for src := range p.transitions {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		t := p.transitions[src]
		if t.Source != src {
			problems = append(problems, fmt.Errorf("transition %s is stored under state %s", t, displayState(src)))
		}
		if strings.TrimSpace(t.Kind.Name) == "" {
			problems = append(problems, fmt.Errorf("transition from %s has no step kind", displayState(src)))
		}
		if !p.Knows(t.Target) {
			problems = append(problems, fmt.Errorf("transition %s targets unknown state %s", t, displayState(t.Target)))
		}
		if p.IsFinal(src) {
			problems = append(problems, fmt.Errorf("final state %s has an outgoing transition", displayState(src)))
		}
	}

	for _, cycle := range p.cycles() {
		problems = append(problems, fmt.Errorf("transitions form a cycle: %s", strings.Join(cycle, " -> ")))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: plan %q: %w", ErrPlanInvalid, p.name, errors.Join(problems...))
}

// cycles returns each cycle once, as the list of states along it.
func (p *Plan) cycles() [][]string {
	sources := make([]string, 0, len(p.transitions))
	for src := range p.transitions {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	done := make(map[string]struct{}, len(sources))
	var out [][]string
	for _, start := range sources {
		if _, ok := done[start]; ok {
			continue
		}
		index := map[string]int{}
		var path []string
		state := start
		for {
			if _, ok := done[state]; ok {
				break
			}
			if i, ok := index[state]; ok {
				cycle := append([]string{}, path[i:]...)
				cycle = append(cycle, state)
				for j := range cycle {
					cycle[j] = displayState(cycle[j])
				}
				out = append(out, cycle)
				break
			}
			t, ok := p.transitions[state]
			if !ok {
				break
			}
			index[state] = len(path)
			path = append(path, state)
			state = t.Target
		}
		for _, s := range path {
			done[s] = struct{}{}
		}
	}
	return out
}

// PlanBuilder assembles a plan one chain at a time:
//
//	NewPlanBuilder("app").From(Origin).To("1", a).To("2", b).Build()
type PlanBuilder struct {
	name        string
	transitions []Transition
	finals      []string
	prev        string
	started     bool
	err         error
}

// NewPlanBuilder starts a plan called name.
func NewPlanBuilder(name string) *PlanBuilder {
	return &PlanBuilder{name: name}
}

// From sets the state the next To departs from.
func (b *PlanBuilder) From(state string) *PlanBuilder {
	b.prev = state
	b.started = true
	return b
}

// To adds a transition from the current state to target.
func (b *PlanBuilder) To(target string, kind StepKind) *PlanBuilder {
	if !b.started && b.err == nil {
		b.err = fmt.Errorf("%w: plan %q: To(%s) called before From", ErrPlanInvalid, b.name, displayState(target))
	}
	b.transitions = append(b.transitions, Transition{Source: b.prev, Target: target, Kind: kind})
	b.prev = target
	return b
}

// Final declares an extra terminal state.
func (b *PlanBuilder) Final(state string) *PlanBuilder {
	b.finals = append(b.finals, state)
	return b
}

// Build declares the last target reached as final and returns the plan.
// The plan is not validated; the executor does that before running it.
func (b *PlanBuilder) Build() (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	finals := b.finals
	if b.started && len(b.transitions) > 0 {
		finals = append(finals, b.prev)
	}
	return NewPlan(b.name, b.transitions, finals...)
}

func displayState(state string) string {
	if state == Origin {
		return "origin"
	}
	return fmt.Sprintf("%q", state)
}
