// Package prompt asks the operator before a plan touches the database.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrCancelled is returned when the operator presses esc or ctrl+c.
var ErrCancelled = errors.New("cancelled")

type confirmState int

const (
	stateAsking confirmState = iota
	stateConfirmed
	stateDeclined
	stateCancelled
)

// Item is one pending transition shown in the prompt.
type Item struct {
	Label   string
	Warning string
}

type confirmModel struct {
	title   string
	items   []Item
	input   textinput.Model
	state   confirmState
	invalid bool
}

func newConfirmModel(title string, items []Item) confirmModel {
	input := textinput.New()
	input.Placeholder = "yes"
	input.Prompt = iconArrow + " "
	input.CharLimit = 8
	input.Focus()
	return confirmModel{title: title, items: items, input: input}
}

func (m confirmModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.state = stateCancelled
			return m, tea.Quit
		case tea.KeyEnter:
			switch strings.ToLower(strings.TrimSpace(m.input.Value())) {
			case "yes", "y":
				m.state = stateConfirmed
				return m, tea.Quit
			case "no", "n":
				m.state = stateDeclined
				return m, tea.Quit
			default:
				m.invalid = true
				m.input.SetValue("")
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	switch m.state {
	case stateConfirmed:
		return successStyle.Render(iconSuccess+" Applying") + "\n"
	case stateDeclined, stateCancelled:
		return errorStyle.Render(iconError+" Not applied") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(iconTool + " " + m.title))
	b.WriteString("\n\n")

	var lines []string
	for i, item := range m.items {
		line := fmt.Sprintf("%d. %s", i+1, item.Label)
		if item.Warning != "" {
			line += "\n   " + warningStyle.Render(iconWarning+" "+item.Warning)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, "Nothing to apply")
	}
	b.WriteString(pendingBoxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n\nType yes to apply:\n")
	b.WriteString(m.input.View())
	if m.invalid {
		b.WriteString("\n" + errorStyle.Render("Please type yes or no"))
	}
	b.WriteString("\n" + statusBarStyle.Render("enter: submit • esc: cancel"))
	return b.String()
}

// Confirm shows the pending items and waits for the operator to type yes.
func Confirm(title string, items []Item) (bool, error) {
	final, err := tea.NewProgram(newConfirmModel(title, items)).Run()
	if err != nil {
		return false, fmt.Errorf("failed to run prompt: %w", err)
	}
	m := final.(confirmModel)
	switch m.state {
	case stateConfirmed:
		return true, nil
	case stateCancelled:
		return false, ErrCancelled
	default:
		return false, nil
	}
}
