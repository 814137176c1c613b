package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/twinbattle/internal/state"
)

var (
	RedColor     = lipgloss.Color("#F87171")
	BlueColor    = lipgloss.Color("#60A5FA")
	MutedColor   = lipgloss.Color("#9CA3AF")
	PrimaryColor = lipgloss.Color("#A78BFA")

	StatusRunning   = lipgloss.Color("#10B981")
	StatusPaused    = lipgloss.Color("#F59E0B")
	StatusCompleted = lipgloss.Color("#A78BFA")

	Title = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	Muted = lipgloss.NewStyle().Foreground(MutedColor)
	Red   = lipgloss.NewStyle().Bold(true).Foreground(RedColor)
	Blue  = lipgloss.NewStyle().Bold(true).Foreground(BlueColor)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Padding(0, 1)
)

// StatusStyle returns the style for a battle status.
func StatusStyle(s state.Status) lipgloss.Style {
	switch s {
	case state.StatusRunning:
		return lipgloss.NewStyle().Foreground(StatusRunning)
	case state.StatusPaused:
		return lipgloss.NewStyle().Foreground(StatusPaused)
	case state.StatusCompleted:
		return lipgloss.NewStyle().Foreground(StatusCompleted)
	default:
		return Muted
	}
}

// ProgressBar renders current/total as a fixed-width bar.
func ProgressBar(current, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	filled := current * width / total
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// Summary renders one battle as a bordered block.
func Summary(st *state.BattleState) string {
	var b strings.Builder
	b.WriteString(Title.Render("Battle "+st.ID) + "\n")
	fmt.Fprintf(&b, "%s %s\n", Muted.Render("target:"), st.TargetPath)
	fmt.Fprintf(&b, "%s %s\n", Muted.Render("mode:  "), st.Mode)
	fmt.Fprintf(&b, "%s %s\n", Muted.Render("status:"), StatusStyle(st.Status).Render(string(st.Status)))
	fmt.Fprintf(&b, "%s %s %d/%d\n", Muted.Render("rounds:"),
		ProgressBar(st.CurrentRound, st.MaxRounds, 20), st.CurrentRound, st.MaxRounds)
	fmt.Fprintf(&b, "%s %s  %s", Muted.Render("score: "),
		Red.Render(fmt.Sprintf("red %d", st.RedTotalScore)),
		Blue.Render(fmt.Sprintf("blue %d", st.BlueTotalScore)))
	if st.LastError != "" {
		fmt.Fprintf(&b, "\n%s %s", Muted.Render("error: "), st.LastError)
	}
	return Box.Render(b.String())
}

// Table renders one line per battle.
func Table(states []*state.BattleState) string {
	if len(states) == 0 {
		return Muted.Render("No battles")
	}
	var b strings.Builder
	header := fmt.Sprintf("%-36s  %-10s  %-12s  %-9s  %s", "ID", "STATUS", "MODE", "ROUNDS", "SCORE R/B")
	b.WriteString(Title.Render(header) + "\n")
	for _, st := range states {
		status := StatusStyle(st.Status).Render(fmt.Sprintf("%-10s", st.Status))
		fmt.Fprintf(&b, "%-36s  %s  %-12s  %-9s  %d/%d\n",
			st.ID, status, st.Mode, fmt.Sprintf("%d/%d", st.CurrentRound, st.MaxRounds),
			st.RedTotalScore, st.BlueTotalScore)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Truncate shortens s to maxWidth visible columns, adding "..." when cut.
// Escape sequences and wide characters are measured correctly.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}
