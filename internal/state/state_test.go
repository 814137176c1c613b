package state

import "testing"

func TestNew(t *testing.T) {
	st := New("b1", "/src/app", "copy", 5, 2)
	if st.Status != StatusRunning {
		t.Errorf("Status = %q, want running", st.Status)
	}
	if st.CurrentRound != 0 {
		t.Errorf("CurrentRound = %d, want 0", st.CurrentRound)
	}
	if st.NextRound() != 1 {
		t.Errorf("NextRound() = %d, want 1", st.NextRound())
	}
	if st.Remaining() != 5 {
		t.Errorf("Remaining() = %d, want 5", st.Remaining())
	}
	if err := st.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*BattleState)
		wantErr bool
	}{
		{"valid", func(*BattleState) {}, false},
		{"empty id", func(s *BattleState) { s.ID = "" }, true},
		{"unknown status", func(s *BattleState) { s.Status = "exploded" }, true},
		{"round beyond budget", func(s *BattleState) { s.CurrentRound = 6 }, true},
		{"negative round", func(s *BattleState) { s.CurrentRound = -1 }, true},
		{"zero budget", func(s *BattleState) { s.MaxRounds = 0 }, true},
		{"completed early without flag", func(s *BattleState) {
			s.Status = StatusCompleted
			s.CurrentRound = 3
		}, true},
		{"completed early with flag", func(s *BattleState) {
			s.Status = StatusCompleted
			s.CurrentRound = 3
			s.EndedEarly = true
		}, false},
		{"completed at budget", func(s *BattleState) {
			s.Status = StatusCompleted
			s.CurrentRound = 5
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := New("b1", "/src", "copy", 5, 1)
			tt.modify(st)
			err := st.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShouldCheckpoint(t *testing.T) {
	tests := []struct {
		n, interval, max int
		want             bool
	}{
		{1, 1, 5, true},
		{1, 2, 5, false},
		{2, 2, 5, true},
		{3, 2, 5, false},
		{4, 2, 5, true},
		{5, 2, 5, true}, // final round always persisted
		{9, 10, 100, false},
		{10, 10, 100, true},
		{3, 0, 5, true}, // non-positive interval treated as 1
	}
	for _, tt := range tests {
		if got := ShouldCheckpoint(tt.n, tt.interval, tt.max); got != tt.want {
			t.Errorf("ShouldCheckpoint(%d, %d, %d) = %v, want %v", tt.n, tt.interval, tt.max, got, tt.want)
		}
	}
}

func TestClone(t *testing.T) {
	st := New("b1", "/src", "copy", 5, 1)
	c := st.Clone()
	c.CurrentRound = 4
	if st.CurrentRound != 0 {
		t.Error("Clone() must not alias the original")
	}
	var nilState *BattleState
	if nilState.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}
