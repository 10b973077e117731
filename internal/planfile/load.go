package planfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lockplane/lockstep/internal/database"
	"github.com/lockplane/lockstep/internal/locks"
	"github.com/lockplane/lockstep/internal/migrate"
)

// Issue is a problem found while loading a plan file.
type Issue struct {
	File     string `json:"file"`
	Step     string `json:"step,omitempty"`
	Severity string `json:"severity"` // "error" or "warning"
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}

func (i Issue) String() string {
	if i.Step != "" {
		return fmt.Sprintf("%s: step %s: %s", i.File, i.Step, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.File, i.Message)
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Loaded is a plan file compiled for one database type.
type Loaded struct {
	Path     string
	File     *File
	Plan     *migrate.Plan
	Registry *migrate.Registry
	// Statements holds the statements of each step, by step name.
	Statements map[string][]string
	Warnings   []Issue
}

// Load reads the plan at path and compiles it for dbType. Warnings are
// kept on the result; any error issue fails the load.
func Load(path string, dbType database.DatabaseType) (*Loaded, error) {
	loaded, issues := Check(path, dbType)
	var problems []error
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			problems = append(problems, errors.New(issue.String()))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", migrate.ErrPlanInvalid, errors.Join(problems...))
	}
	return loaded, nil
}

// Check reads and compiles the plan at path, returning every issue it
// finds. loaded is nil when any issue is an error.
func Check(path string, dbType database.DatabaseType) (loaded *Loaded, issues []Issue) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, []Issue{{File: path, Severity: SeverityError, Message: err.Error(), Code: "invalid-file"}}
	}
	return Compile(f, path, dbType)
}

// Compile resolves the steps of f and builds its plan. sql_file paths are
// relative to the directory of path.
func Compile(f *File, path string, dbType database.DatabaseType) (*Loaded, []Issue) {
	c := &compiler{
		file:     f,
		path:     path,
		dir:      filepath.Dir(path),
		dbType:   dbType,
		registry: migrate.NewRegistry(),
		kinds:    make(map[string]migrate.StepKind),
		stmts:    make(map[string][]string),
	}
	c.compileSteps()
	transitions := c.compileTransitions()
	if c.failed() {
		return nil, c.issues
	}

	final := f.Final
	if final == "" {
		final = c.inferFinal(transitions)
	}

	plan, err := migrate.NewPlan(f.Name, transitions, nonEmpty(final)...)
	if err != nil {
		c.errorf("", "duplicate-source", "%s", unwrapProblems(err)[0])
		return nil, c.issues
	}
	for _, problem := range unwrapProblems(plan.Validate()) {
		c.errorf("", "invalid-plan", "%s", problem)
	}
	if c.failed() {
		return nil, c.issues
	}

	c.checkOrdering(plan)
	return &Loaded{
		Path:       path,
		File:       f,
		Plan:       plan,
		Registry:   c.registry,
		Statements: c.stmts,
		Warnings:   c.issues,
	}, c.issues
}

type compiler struct {
	file     *File
	path     string
	dir      string
	dbType   database.DatabaseType
	registry *migrate.Registry
	kinds    map[string]migrate.StepKind
	stmts    map[string][]string
	issues   []Issue
}

func (c *compiler) errorf(step, code, format string, args ...any) {
	c.issues = append(c.issues, Issue{File: c.path, Step: step, Severity: SeverityError, Message: fmt.Sprintf(format, args...), Code: code})
}

func (c *compiler) warnf(step, code, format string, args ...any) {
	c.issues = append(c.issues, Issue{File: c.path, Step: step, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...), Code: code})
}

func (c *compiler) failed() bool {
	for _, issue := range c.issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (c *compiler) compileSteps() {
	for _, spec := range c.file.Steps {
		sqlText, ok := c.readSQL(spec)
		if !ok {
			continue
		}

		stmts, err := Statements(sqlText, c.dbType)
		if err != nil {
			c.errorf(spec.Name, "syntax", "%v", err)
			continue
		}
		if len(stmts) == 0 {
			c.errorf(spec.Name, "empty-step", "step has no SQL")
			continue
		}

		findings, err := Inspect(sqlText, c.dbType)
		if err != nil {
			c.errorf(spec.Name, "syntax", "%v", err)
			continue
		}
		mode := migrate.ModeScoped
		if spec.Unscoped {
			mode = migrate.ModeUnscoped
		}
		if mode == migrate.ModeScoped && len(findings) > 0 {
			ops := make([]string, len(findings))
			for i, f := range findings {
				ops[i] = f.String()
			}
			c.errorf(spec.Name, "needs-unscoped", "%s cannot run inside a transaction; set unscoped = true", strings.Join(ops, ", "))
			continue
		}
		if mode == migrate.ModeScoped && c.dbType == database.DatabaseTypePostgres {
			c.checkHeldLocks(spec.Name, stmts)
		}
		if mode == migrate.ModeUnscoped && len(stmts) > 1 {
			c.warnf(spec.Name, "unscoped-not-atomic", "%d statements run without a transaction; a failure leaves the earlier ones applied", len(stmts))
		}

		kind, err := c.registry.Register(spec.Name, mode, sqlFactory(spec.Name, stmts))
		if err != nil {
			c.errorf(spec.Name, "duplicate-step", "%v", err)
			continue
		}
		c.kinds[spec.Name] = kind
		c.stmts[spec.Name] = stmts
	}
}

func (c *compiler) readSQL(spec StepSpec) (string, bool) {
	if spec.SQLFile == "" {
		return spec.SQL, true
	}
	sqlPath := spec.SQLFile
	if !filepath.IsAbs(sqlPath) {
		sqlPath = filepath.Join(c.dir, sqlPath)
	}
	data, err := os.ReadFile(sqlPath)
	if err != nil {
		c.errorf(spec.Name, "missing-sql-file", "failed to read %s: %v", spec.SQLFile, err)
		return "", false
	}
	return string(data), true
}

func (c *compiler) compileTransitions() []migrate.Transition {
	transitions := make([]migrate.Transition, 0, len(c.file.Transitions))
	for _, spec := range c.file.Transitions {
		kind, ok := c.kinds[spec.Step]
		if !ok {
			kind, ok = c.registry.Kind(spec.Step)
		}
		if !ok {
			if !c.declared(spec.Step) {
				c.errorf("", "unknown-step", "transition %q -> %q uses undeclared step %q", spec.From, spec.To, spec.Step)
			}
			continue
		}
		transitions = append(transitions, migrate.Transition{Source: spec.From, Target: spec.To, Kind: kind})
	}
	return transitions
}

// declared reports whether name is a step in the file, even one that
// failed to compile and already has an issue of its own.
func (c *compiler) declared(name string) bool {
	for _, spec := range c.file.Steps {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// inferFinal returns the single target that is not also a source.
func (c *compiler) inferFinal(transitions []migrate.Transition) string {
	sources := make(map[string]struct{}, len(transitions))
	for _, t := range transitions {
		sources[t.Source] = struct{}{}
	}
	ends := make(map[string]struct{})
	for _, t := range transitions {
		if _, ok := sources[t.Target]; !ok {
			ends[t.Target] = struct{}{}
		}
	}
	switch len(ends) {
	case 0:
		if len(transitions) > 0 {
			c.errorf("", "no-final", "every target is also a source, so there is no final state")
		}
		return ""
	case 1:
		for end := range ends {
			return end
		}
	}
	names := make([]string, 0, len(ends))
	for end := range ends {
		names = append(names, fmt.Sprintf("%q", end))
	}
	sort.Strings(names)
	c.errorf("", "ambiguous-final", "several states end a chain (%s); set final", strings.Join(names, ", "))
	return ""
}

// checkHeldLocks warns when a scoped step takes a lock that blocks
// writes, since it stays held until the whole run commits.
func (c *compiler) checkHeldLocks(step string, stmts []string) {
	impact, err := locks.AnalyzeStatements(stmts)
	if err != nil || impact.Impact() < locks.ImpactMedium {
		return
	}
	c.warnf(step, "long-held-lock", "takes %s locks, blocking %s on the table until the run's transaction commits", impact.LockMode, impact.LockMode.Blocked())
}

// checkOrdering warns about unscoped steps that run after a scoped step,
// while the run's transaction is already holding locks.
func (c *compiler) checkOrdering(plan *migrate.Plan) {
	sawScoped := false
	for _, t := range plan.Transitions() {
		switch {
		case t.Kind.Mode == migrate.ModeScoped && t.Kind.Name != migrate.NoopKind:
			sawScoped = true
		case t.Kind.Mode == migrate.ModeUnscoped && sawScoped:
			switch c.dbType {
			case database.DatabaseTypePostgres:
				c.warnf(t.Kind.Name, "unscoped-after-scoped", "runs while the run's transaction is open; it waits on any lock earlier steps hold until lock_timeout")
			default:
				c.warnf(t.Kind.Name, "unscoped-after-scoped", "SQLite allows one writer; this step waits for the run's transaction until busy_timeout")
			}
		}
	}
}

// unwrapProblems flattens a joined validation error into its messages.
func unwrapProblems(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	var walk func(error)
	walk = func(err error) {
		if err == migrate.ErrPlanInvalid {
			return
		}
		if multi, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range multi.Unwrap() {
				walk(e)
			}
			return
		}
		out = append(out, err.Error())
	}
	walk(err)
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

func nonEmpty(states ...string) []string {
	var out []string
	for _, s := range states {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
