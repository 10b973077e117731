package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBuilderChain(t *testing.T) {
	plan, err := NewPlanBuilder("app").
		From(Origin).
		To("1", Scoped("A")).
		To("2", Unscoped("B")).
		To("3", Scoped("C")).
		Build()
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	assert.Equal(t, "app", plan.Name())
	assert.Equal(t, []string{"3"}, plan.Finals())
	assert.True(t, plan.IsFinal("3"))
	assert.False(t, plan.IsFinal("2"))

	tr, ok := plan.Transition("1")
	require.True(t, ok)
	assert.Equal(t, Transition{Source: "1", Target: "2", Kind: Unscoped("B")}, tr)

	assert.Equal(t, []string{"A", "B", "C"}, kindNames(plan.Transitions()))
	assert.Equal(t, []string{"B", "C"}, kindNames(plan.Path("1")))
	assert.Empty(t, plan.Path("3"))
	assert.Empty(t, plan.Path("unknown"))
}

func TestPlanBuilderToBeforeFrom(t *testing.T) {
	_, err := NewPlanBuilder("app").To("1", Scoped("A")).Build()
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestPlanBuilderSeveralChains(t *testing.T) {
	// an older install path joins the main chain half way
	plan, err := NewPlanBuilder("app").
		From(Origin).To("1", Scoped("A")).To("2", Scoped("B")).
		From("legacy").To("1", Scoped("upgrade-legacy")).
		From("2").To("3", Scoped("C")).
		Build()
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	assert.Equal(t, []string{"C"}, kindNames(plan.Path("2")))
	assert.Equal(t, []string{"upgrade-legacy", "B", "C"}, kindNames(plan.Path("legacy")))
	assert.Equal(t, []string{"A", "B", "C", "upgrade-legacy"}, kindNames(plan.Transitions()))
}

func TestNewPlanRejectsBranching(t *testing.T) {
	_, err := NewPlan("app", []Transition{
		{Source: Origin, Target: "1", Kind: Scoped("A")},
		{Source: Origin, Target: "2", Kind: Scoped("B")},
	}, "1", "2")
	require.ErrorIs(t, err, ErrPlanInvalid)
	assert.Contains(t, err.Error(), "origin has two transitions")
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name        string
		plan        string
		transitions []Transition
		finals      []string
		wantErr     string
	}{
		{
			name: "valid",
			plan: "app",
			transitions: []Transition{
				{Source: Origin, Target: "1", Kind: Scoped("A")},
				{Source: "1", Target: "2", Kind: Scoped("B")},
			},
			finals: []string{"2"},
		},
		{
			name:        "missing name",
			plan:        " ",
			transitions: []Transition{{Source: Origin, Target: "1", Kind: Scoped("A")}},
			finals:      []string{"1"},
			wantErr:     "plan name is required",
		},
		{
			name:    "no transitions",
			plan:    "app",
			finals:  []string{"1"},
			wantErr: "plan has no transitions",
		},
		{
			name:        "dangling target",
			plan:        "app",
			transitions: []Transition{{Source: Origin, Target: "1", Kind: Scoped("A")}},
			wantErr:     `targets unknown state "1"`,
		},
		{
			name:        "missing kind",
			plan:        "app",
			transitions: []Transition{{Source: Origin, Target: "1"}},
			finals:      []string{"1"},
			wantErr:     "has no step kind",
		},
		{
			name: "final state with outgoing transition",
			plan: "app",
			transitions: []Transition{
				{Source: Origin, Target: "1", Kind: Scoped("A")},
				{Source: "1", Target: "2", Kind: Scoped("B")},
			},
			finals:  []string{"1", "2"},
			wantErr: `final state "1" has an outgoing transition`,
		},
		{
			name: "cycle",
			plan: "app",
			transitions: []Transition{
				{Source: Origin, Target: "1", Kind: Scoped("A")},
				{Source: "1", Target: "2", Kind: Scoped("B")},
				{Source: "2", Target: "1", Kind: Scoped("C")},
			},
			wantErr: `transitions form a cycle: "1" -> "2" -> "1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlan(tt.plan, tt.transitions, tt.finals...)
			require.NoError(t, err)

			err = plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrPlanInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlanValidateReportsEveryProblem(t *testing.T) {
	plan, err := NewPlan("app", []Transition{
		{Source: Origin, Target: "1", Kind: Scoped("A")},
		{Source: "1", Target: "x", Kind: Scoped("")},
	})
	require.NoError(t, err)

	err = plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no step kind")
	assert.Contains(t, err.Error(), `unknown state "x"`)
}

func TestTransitionString(t *testing.T) {
	tr := Transition{Source: Origin, Target: "v1", Kind: Scoped("create-users")}
	assert.Equal(t, `origin -> "v1" (create-users)`, tr.String())
}
