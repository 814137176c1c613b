// Package report renders the end-of-battle markdown report and the terminal
// summaries shown by the status command.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/firmware"
	"github.com/Iron-Ham/twinbattle/internal/memory"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/Iron-Ham/twinbattle/internal/twin"
)

// Input is everything a report is built from.
type Input struct {
	State *state.BattleState
	// Episodes per team, in round order. Writer fills this from memory when
	// it is nil.
	Episodes map[twin.Team][]memory.Episode
	// Latency holds restore measurements for emulator battles.
	Latency map[twin.Team]firmware.LatencyReport
}

// Writer writes reports to <data>/reports/<id>.md.
type Writer struct {
	DataDir string
	Memory  *memory.Store
}

// NewWriter creates a Writer. mem may be nil, in which case reports carry no
// episode detail unless the caller provides it.
func NewWriter(dataDir string, mem *memory.Store) *Writer {
	return &Writer{DataDir: dataDir, Memory: mem}
}

// Collect fills in.Episodes from memory when the caller left it nil.
func (w *Writer) Collect(ctx context.Context, in Input) (Input, error) {
	if in.State == nil {
		return in, fmt.Errorf("report requires a battle state")
	}
	if in.Episodes != nil || w.Memory == nil {
		return in, nil
	}
	in.Episodes = make(map[twin.Team][]memory.Episode)
	for _, team := range twin.Teams() {
		eps, err := w.Memory.ForTeam(in.State.ID, string(team), 0).Episodes(ctx)
		if err != nil {
			return in, fmt.Errorf("failed to load %s episodes: %w", team, err)
		}
		in.Episodes[team] = eps
	}
	return in, nil
}

// Write renders in and stores it, returning the report path.
func (w *Writer) Write(ctx context.Context, in Input) (string, error) {
	in, err := w.Collect(ctx, in)
	if err != nil {
		return "", err
	}

	path := state.ReportPath(w.DataDir, in.State.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(Markdown(in)), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize report: %w", err)
	}
	return path, nil
}

// Markdown renders the report body.
func Markdown(in Input) string {
	st := in.State
	var b strings.Builder

	fmt.Fprintf(&b, "# Battle %s\n\n", st.ID)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Target | `%s` |\n", st.TargetPath)
	fmt.Fprintf(&b, "| Mode | %s |\n", st.Mode)
	fmt.Fprintf(&b, "| Status | %s |\n", st.Status)
	fmt.Fprintf(&b, "| Rounds | %d / %d |\n", st.CurrentRound, st.MaxRounds)
	fmt.Fprintf(&b, "| Started | %s |\n", st.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Updated | %s |\n\n", st.UpdatedAt.UTC().Format(time.RFC3339))

	b.WriteString("## Score\n\n")
	fmt.Fprintf(&b, "- Red (attacker): **%d**\n", st.RedTotalScore)
	fmt.Fprintf(&b, "- Blue (defender): **%d**\n", st.BlueTotalScore)
	fmt.Fprintf(&b, "- Result: %s\n\n", Winner(st))

	if len(in.Latency) > 0 {
		b.WriteString("## Snapshot restore latency\n\n")
		for _, team := range twin.Teams() {
			r, ok := in.Latency[team]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", team, r)
			for _, e := range r.Errors {
				fmt.Fprintf(&b, "  - error: %s\n", e)
			}
		}
		b.WriteString("\n")
	}

	for _, team := range twin.Teams() {
		eps := in.Episodes[team]
		fmt.Fprintf(&b, "## %s team\n\n", titleCase(string(team)))
		if len(eps) == 0 {
			b.WriteString("_No episodes recorded._\n\n")
			continue
		}
		writeTags(&b, eps)
		for _, ep := range eps {
			fmt.Fprintf(&b, "### Round %d\n\n", ep.Round)
			writeList(&b, "Actions", ep.Actions)
			writeList(&b, "Outcomes", ep.Outcomes)
			writeList(&b, "Learnings", ep.Learnings)
		}
	}
	return b.String()
}

// Winner describes the score comparison.
func Winner(st *state.BattleState) string {
	switch {
	case st.RedTotalScore > st.BlueTotalScore:
		return fmt.Sprintf("red leads by %d", st.RedTotalScore-st.BlueTotalScore)
	case st.BlueTotalScore > st.RedTotalScore:
		return fmt.Sprintf("blue leads by %d", st.BlueTotalScore-st.RedTotalScore)
	default:
		return "tied"
	}
}

func writeTags(b *strings.Builder, eps []memory.Episode) {
	counts := make(map[string]int)
	for _, ep := range eps {
		for _, tag := range ep.TaxonomyTags {
			if strings.HasPrefix(tag, "round_") {
				continue
			}
			counts[tag]++
		}
	}
	if len(counts) == 0 {
		return
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	b.WriteString("Taxonomy: ")
	for i, tag := range tags {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s (%d)", tag, counts[tag])
	}
	b.WriteString("\n\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s**\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
