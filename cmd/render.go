package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lockplane/lockstep/internal/database"
	"github.com/lockplane/lockstep/internal/locks"
	"github.com/lockplane/lockstep/internal/migrate"
	"github.com/lockplane/lockstep/internal/planfile"
	"github.com/lockplane/lockstep/internal/prompt"
)

var (
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	finalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// transitionLabel renders one transition for listings.
func transitionLabel(t migrate.Transition) string {
	label := fmt.Sprintf("%s -> %s  %s", stateLabel(t.Source), stateLabel(t.Target), t.Kind.Name)
	if t.Kind.Mode == migrate.ModeUnscoped {
		label += " [unscoped]"
	}
	return label
}

// lockWarning describes the strongest table lock a step takes, or "" when
// it does not get in the way of the application. Only Postgres statements
// are analyzed.
func lockWarning(loaded *planfile.Loaded, t migrate.Transition, dbType database.DatabaseType) string {
	if dbType != database.DatabaseTypePostgres {
		return ""
	}
	impact, err := locks.AnalyzeStatements(loaded.Statements[t.Kind.Name])
	if err != nil || impact.Impact() < locks.ImpactMedium {
		return ""
	}
	msg := fmt.Sprintf("takes %s, blocking %s (%s impact)", impact.LockMode, impact.LockMode.Blocked(), impact.Impact())
	if t.Kind.Mode == migrate.ModeScoped {
		msg += ", held until the run commits"
	}
	return msg
}

func pendingItems(loaded *planfile.Loaded, pending []migrate.Transition, dbType database.DatabaseType) []prompt.Item {
	items := make([]prompt.Item, 0, len(pending))
	for _, t := range pending {
		items = append(items, prompt.Item{
			Label:   transitionLabel(t),
			Warning: lockWarning(loaded, t, dbType),
		})
	}
	return items
}

// renderItems is the non-interactive form of the approval list.
func renderItems(items []prompt.Item) string {
	if len(items) == 0 {
		return "  nothing to apply\n"
	}
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, item.Label)
		if item.Warning != "" {
			fmt.Fprintf(&b, "     %s\n", warnStyle.Render("⚠ "+item.Warning))
		}
	}
	return b.String()
}

// renderChain draws every transition of the plan in order. When current is
// not nil its state is marked.
func renderChain(loaded *planfile.Loaded, current *string, dbType database.DatabaseType) string {
	plan := loaded.Plan
	var b strings.Builder
	for _, t := range plan.Transitions() {
		marker := "  "
		if current != nil && t.Source == *current {
			marker = currentStyle.Render("► ")
		}
		fmt.Fprintf(&b, "%s%s\n", marker, transitionLabel(t))
		if desc := stepDescription(loaded, t.Kind.Name); desc != "" {
			fmt.Fprintf(&b, "     %s\n", mutedStyle.Render(desc))
		}
		if w := lockWarning(loaded, t, dbType); w != "" {
			fmt.Fprintf(&b, "     %s\n", warnStyle.Render("⚠ "+w))
		}
	}
	for _, final := range plan.Finals() {
		marker := "  "
		if current != nil && final == *current {
			marker = currentStyle.Render("► ")
		}
		fmt.Fprintf(&b, "%s%s\n", marker, finalStyle.Render(stateLabel(final)+" (final)"))
	}
	return b.String()
}

func stepDescription(loaded *planfile.Loaded, name string) string {
	if loaded.File == nil {
		return ""
	}
	for _, s := range loaded.File.Steps {
		if s.Name == name {
			return s.Description
		}
	}
	return ""
}
