// Package watch is the live terminal view behind `twinbattle status --watch`.
// It polls persisted battle state, so it works against a battle run by any
// process.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/state"
)

// DefaultInterval is how often state is reloaded.
const DefaultInterval = time.Second

// Loader returns the battles to display.
type Loader func(ctx context.Context) ([]*state.BattleState, error)

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
}

type tickMsg time.Time

type statesMsg struct {
	states []*state.BattleState
	err    error
	at     time.Time
}

// Model is the bubbletea model for the watch view.
type Model struct {
	ctx      context.Context
	load     Loader
	interval time.Duration
	spinner  spinner.Model

	states  []*state.BattleState
	err     error
	updated time.Time
	width   int
}

// NewModel creates a watch model.
func NewModel(ctx context.Context, load Loader, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = report.Title
	return Model{ctx: ctx, load: load, interval: interval, spinner: sp}
}

// Init starts the spinner and the first load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		states, err := m.load(m.ctx)
		return statesMsg{states: states, err: err, at: time.Now()}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.refresh()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case statesMsg:
		m.states = msg.states
		m.err = msg.err
		m.updated = msg.at
		return m, m.tick()

	case tickMsg:
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Running reports whether any displayed battle is running.
func (m Model) Running() bool {
	for _, st := range m.states {
		if st.Status == state.StatusRunning {
			return true
		}
	}
	return false
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	title := report.Title.Render("twinbattle")
	if m.Running() {
		title = m.spinner.View() + " " + title
	}
	b.WriteString(title + "\n\n")

	switch {
	case m.err != nil:
		b.WriteString(report.Red.Render("error: "+m.err.Error()) + "\n")
	case m.updated.IsZero():
		b.WriteString(report.Muted.Render("loading...") + "\n")
	case len(m.states) == 1:
		b.WriteString(report.Summary(m.states[0]) + "\n")
	default:
		b.WriteString(report.Table(m.states) + "\n")
	}

	footer := fmt.Sprintf("%s  %s", keys.Refresh.Help().Key+" "+keys.Refresh.Help().Desc,
		keys.Quit.Help().Key+" "+keys.Quit.Help().Desc)
	if !m.updated.IsZero() {
		footer += "  updated " + m.updated.Format("15:04:05")
	}
	b.WriteString("\n" + report.Muted.Render(footer))
	return fitWidth(b.String(), m.width)
}

// fitWidth clips every line to the terminal width so the table never wraps.
func fitWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = report.Truncate(line, width)
	}
	return strings.Join(lines, "\n")
}

// Run shows the watch view until the user quits or ctx is cancelled.
func Run(ctx context.Context, load Loader, interval time.Duration) error {
	p := tea.NewProgram(NewModel(ctx, load, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
