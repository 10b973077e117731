package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Mode says where a step runs.
type Mode int

const (
	// ModeScoped steps run inside the transaction shared by the whole run.
	ModeScoped Mode = iota
	// ModeUnscoped steps run on their own connection, outside any
	// transaction. Use it for statements a transaction rejects, such as
	// CREATE INDEX CONCURRENTLY.
	ModeUnscoped
)

func (m Mode) String() string {
	switch m {
	case ModeScoped:
		return "scoped"
	case ModeUnscoped:
		return "unscoped"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "scoped", "":
		return ModeScoped, nil
	case "unscoped":
		return ModeUnscoped, nil
	default:
		return 0, fmt.Errorf("unknown step mode %q", s)
	}
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// StepKind identifies a step type and carries how it must be run.
type StepKind struct {
	Name string `json:"name"`
	Mode Mode   `json:"mode"`
}

// Scoped returns a kind that runs in the ambient transaction.
func Scoped(name string) StepKind {
	return StepKind{Name: name, Mode: ModeScoped}
}

// Unscoped returns a kind that runs on a standalone connection.
func Unscoped(name string) StepKind {
	return StepKind{Name: name, Mode: ModeUnscoped}
}

// Step is one unit of migration work. Steps are built fresh for every run
// and hold no state between runs.
type Step interface {
	Run(ctx context.Context) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context) error

func (f StepFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Builder constructs the step for a kind, bound to mc.
type Builder interface {
	Build(kind StepKind, mc *Context) (Step, error)
}

// Factory builds a step bound to mc.
type Factory func(mc *Context) (Step, error)

// NoopKind names the built-in step that does nothing. Plans use it to
// move between states that need no data change.
const NoopKind = "noop"

type registration struct {
	kind    StepKind
	factory Factory
}

// Registry maps kind names to factories. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]registration
}

// NewRegistry returns a registry holding only the noop kind.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]registration)}
	r.kinds[NoopKind] = registration{
		kind: Scoped(NoopKind),
		factory: func(*Context) (Step, error) {
			return StepFunc(func(context.Context) error { return nil }), nil
		},
	}
	return r
}

// Register adds a kind. Registering a name twice is an error.
func (r *Registry) Register(name string, mode Mode, factory Factory) (StepKind, error) {
	if name == "" {
		return StepKind{}, fmt.Errorf("step kind name is required")
	}
	if factory == nil {
		return StepKind{}, fmt.Errorf("step kind %q: factory is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[name]; exists {
		return StepKind{}, fmt.Errorf("step kind %q already registered", name)
	}
	kind := StepKind{Name: name, Mode: mode}
	r.kinds[name] = registration{kind: kind, factory: factory}
	return kind, nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(name string, mode Mode, factory Factory) StepKind {
	kind, err := r.Register(name, mode, factory)
	if err != nil {
		panic(err)
	}
	return kind
}

// Kind looks up a registered kind by name.
func (r *Registry) Kind(name string) (StepKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.kinds[name]
	return reg.kind, ok
}

// Kinds returns all registered kinds sorted by name.
func (r *Registry) Kinds() []StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StepKind, 0, len(r.kinds))
	for _, reg := range r.kinds {
		out = append(out, reg.kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Build implements Builder. The kind's mode must match its registration so a
// plan cannot run a step outside the mode it was declared for.
func (r *Registry) Build(kind StepKind, mc *Context) (Step, error) {
	r.mu.RLock()
	reg, ok := r.kinds[kind.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepKind, kind.Name)
	}
	if reg.kind.Mode != kind.Mode {
		return nil, fmt.Errorf("step kind %q is registered as %s but the plan runs it %s", kind.Name, reg.kind.Mode, kind.Mode)
	}
	step, err := reg.factory(mc)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, fmt.Errorf("step kind %q: factory returned no step", kind.Name)
	}
	return step, nil
}
