package watch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/twinbattle/internal/state"
)

func loaderOf(states []*state.BattleState, err error) Loader {
	return func(context.Context) ([]*state.BattleState, error) { return states, err }
}

func running(id string, round int) *state.BattleState {
	st := state.New(id, "/src", "git_worktree", 10, 1)
	st.CurrentRound = round
	return st
}

func TestModel_RefreshLoadsStates(t *testing.T) {
	m := NewModel(context.Background(), loaderOf([]*state.BattleState{running("b1", 3)}, nil), time.Second)

	msg := m.refresh()()
	updated, cmd := m.Update(msg)
	if cmd == nil {
		t.Error("expected a tick to be scheduled after loading")
	}
	got := updated.(Model)
	if len(got.states) != 1 || got.states[0].ID != "b1" {
		t.Fatalf("states = %v, want b1", got.states)
	}
	if !got.Running() {
		t.Error("Running() = false, want true")
	}

	view := got.View()
	for _, want := range []string{"Battle b1", "3/10"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestModel_ViewStates(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.Msg
		want string
	}{
		{"loading", nil, "loading..."},
		{"error", statesMsg{err: errors.New("disk gone"), at: time.Now()}, "error: disk gone"},
		{"empty", statesMsg{at: time.Now()}, "No battles"},
		{"many", statesMsg{states: []*state.BattleState{running("b1", 1), running("b2", 2)}, at: time.Now()}, "b2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var model tea.Model = NewModel(context.Background(), loaderOf(nil, nil), 0)
			if tt.msg != nil {
				model, _ = model.Update(tt.msg)
			}
			if view := model.View(); !strings.Contains(view, tt.want) {
				t.Errorf("View() missing %q:\n%s", tt.want, view)
			}
		})
	}
}

func TestModel_Keys(t *testing.T) {
	m := NewModel(context.Background(), loaderOf(nil, nil), 0)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("r should return a command")
	}
	if _, ok := cmd().(statesMsg); !ok {
		t.Error("r should reload state")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if cmd != nil {
		t.Error("unbound key should be ignored")
	}
}

func TestModel_CompletedIsNotRunning(t *testing.T) {
	st := running("b1", 10)
	st.Status = state.StatusCompleted
	m := NewModel(context.Background(), loaderOf(nil, nil), 0)
	updated, _ := m.Update(statesMsg{states: []*state.BattleState{st}, at: time.Now()})
	if updated.(Model).Running() {
		t.Error("completed battle should not count as running")
	}
}

func TestFitWidth(t *testing.T) {
	in := "short\n" + strings.Repeat("x", 40)
	got := fitWidth(in, 20)
	lines := strings.Split(got, "\n")
	if lines[0] != "short" {
		t.Errorf("first line = %q, want unchanged", lines[0])
	}
	if len(lines[1]) != 20 || !strings.HasSuffix(lines[1], "...") {
		t.Errorf("second line = %q, want 20 columns ending in ...", lines[1])
	}
	if fitWidth(in, 0) != in {
		t.Error("zero width should leave the view unchanged")
	}
}
