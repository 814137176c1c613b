// Package state defines the durable battle record and its file-backed store.
//
// A BattleState is the unit of resume: it is written atomically (temp file +
// rename) under <data>/battles/<id>/state.json and is only ever mutated by the
// orchestrator after a round and by an explicit stop.
package state

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a battle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// BattleState is the persisted record of one battle.
type BattleState struct {
	ID                 string `json:"id"`
	TargetPath         string `json:"target_path"`
	Mode               string `json:"mode"`
	CurrentRound       int    `json:"current_round"`
	MaxRounds          int    `json:"max_rounds"`
	RedTotalScore      int    `json:"red_total_score"`
	BlueTotalScore     int    `json:"blue_total_score"`
	Status             Status `json:"status"`
	CheckpointInterval int    `json:"checkpoint_interval"`

	// Twin options recorded at start so resume rebuilds the same backend.
	DockerImage string `json:"docker_image,omitempty"`
	QEMUMachine string `json:"qemu_machine,omitempty"`
	Firmware    string `json:"firmware,omitempty"`

	// EndedEarly marks a completed battle that stopped before MaxRounds.
	EndedEarly bool `json:"ended_early,omitempty"`
	// LastError holds the setup failure that paused the battle, if any.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a running battle at round zero.
func New(id, targetPath, mode string, maxRounds, checkpointInterval int) *BattleState {
	now := time.Now().UTC()
	return &BattleState{
		ID:                 id,
		TargetPath:         targetPath,
		Mode:               mode,
		MaxRounds:          maxRounds,
		CheckpointInterval: checkpointInterval,
		Status:             StatusRunning,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Validate checks the record's invariants.
func (s *BattleState) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("battle id is empty")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	if s.MaxRounds < 1 {
		return fmt.Errorf("max_rounds %d must be positive", s.MaxRounds)
	}
	if s.CurrentRound < 0 || s.CurrentRound > s.MaxRounds {
		return fmt.Errorf("current_round %d outside [0, %d]", s.CurrentRound, s.MaxRounds)
	}
	if s.Status == StatusCompleted && s.CurrentRound != s.MaxRounds && !s.EndedEarly {
		return fmt.Errorf("completed at round %d of %d without ended_early", s.CurrentRound, s.MaxRounds)
	}
	return nil
}

// NextRound returns the round number that has not yet been executed.
func (s *BattleState) NextRound() int {
	return s.CurrentRound + 1
}

// Remaining returns the number of rounds left in the budget.
func (s *BattleState) Remaining() int {
	return s.MaxRounds - s.CurrentRound
}

// Done reports whether the round budget is exhausted.
func (s *BattleState) Done() bool {
	return s.CurrentRound >= s.MaxRounds
}

// ShouldCheckpoint reports whether round n must be persisted for the given
// interval. The final round is always persisted.
func ShouldCheckpoint(n, interval, maxRounds int) bool {
	if n == maxRounds {
		return true
	}
	if interval < 1 {
		interval = 1
	}
	return n%interval == 0
}

// Clone returns a copy safe to hand to readers.
func (s *BattleState) Clone() *BattleState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
