package event

import "time"

// Event is the interface that all events implement.
type Event interface {
	// EventType returns "category.action", e.g. "round.completed".
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names.
const (
	TypeBattleStarted   = "battle.started"
	TypeBattlePaused    = "battle.paused"
	TypeBattleCompleted = "battle.completed"
	TypeRoundStarted    = "round.started"
	TypeRoundCompleted  = "round.completed"
	TypeTwinRestored    = "twin.restored"
	TypePhaseCompleted  = "phase.completed"
	TypeCheckpointSaved = "checkpoint.saved"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Battle Lifecycle Events
// -----------------------------------------------------------------------------

// BattleStartedEvent is emitted when a battle's twins are ready and the round
// loop is about to begin, either fresh or resumed.
type BattleStartedEvent struct {
	baseEvent
	BattleID   string
	TargetPath string
	Mode       string
	FromRound  int // first round this run will execute
	MaxRounds  int
}

// NewBattleStartedEvent creates a BattleStartedEvent.
func NewBattleStartedEvent(battleID, targetPath, mode string, fromRound, maxRounds int) BattleStartedEvent {
	return BattleStartedEvent{
		baseEvent:  newBaseEvent(TypeBattleStarted),
		BattleID:   battleID,
		TargetPath: targetPath,
		Mode:       mode,
		FromRound:  fromRound,
		MaxRounds:  maxRounds,
	}
}

// BattlePausedEvent is emitted when the loop exits on a stop request,
// cancellation or setup failure.
type BattlePausedEvent struct {
	baseEvent
	BattleID     string
	CurrentRound int
	Reason       string
}

// NewBattlePausedEvent creates a BattlePausedEvent.
func NewBattlePausedEvent(battleID string, currentRound int, reason string) BattlePausedEvent {
	return BattlePausedEvent{
		baseEvent:    newBaseEvent(TypeBattlePaused),
		BattleID:     battleID,
		CurrentRound: currentRound,
		Reason:       reason,
	}
}

// BattleCompletedEvent is emitted once the round budget is exhausted.
type BattleCompletedEvent struct {
	baseEvent
	BattleID       string
	Rounds         int
	RedTotalScore  int
	BlueTotalScore int
	ReportPath     string
}

// NewBattleCompletedEvent creates a BattleCompletedEvent.
func NewBattleCompletedEvent(battleID string, rounds, red, blue int, reportPath string) BattleCompletedEvent {
	return BattleCompletedEvent{
		baseEvent:      newBaseEvent(TypeBattleCompleted),
		BattleID:       battleID,
		Rounds:         rounds,
		RedTotalScore:  red,
		BlueTotalScore: blue,
		ReportPath:     reportPath,
	}
}

// -----------------------------------------------------------------------------
// Round Events
// -----------------------------------------------------------------------------

// RoundStartedEvent is emitted before twins are restored for a round.
type RoundStartedEvent struct {
	baseEvent
	BattleID string
	Round    int
}

// NewRoundStartedEvent creates a RoundStartedEvent.
func NewRoundStartedEvent(battleID string, round int) RoundStartedEvent {
	return RoundStartedEvent{
		baseEvent: newBaseEvent(TypeRoundStarted),
		BattleID:  battleID,
		Round:     round,
	}
}

// TwinRestoredEvent reports a baseline restore. Err is empty on success.
type TwinRestoredEvent struct {
	baseEvent
	BattleID string
	Round    int
	Team     string
	Duration time.Duration
	Err      string
}

// NewTwinRestoredEvent creates a TwinRestoredEvent.
func NewTwinRestoredEvent(battleID string, round int, team string, d time.Duration, err error) TwinRestoredEvent {
	e := TwinRestoredEvent{
		baseEvent: newBaseEvent(TypeTwinRestored),
		BattleID:  battleID,
		Round:     round,
		Team:      team,
		Duration:  d,
	}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// PhaseCompletedEvent is emitted after each cognition phase of a team.
type PhaseCompletedEvent struct {
	baseEvent
	BattleID string
	Round    int
	Team     string
	Phase    string
	Summary  string
}

// NewPhaseCompletedEvent creates a PhaseCompletedEvent.
func NewPhaseCompletedEvent(battleID string, round int, team, phase, summary string) PhaseCompletedEvent {
	return PhaseCompletedEvent{
		baseEvent: newBaseEvent(TypePhaseCompleted),
		BattleID:  battleID,
		Round:     round,
		Team:      team,
		Phase:     phase,
		Summary:   summary,
	}
}

// RoundCompletedEvent is emitted after a round is scored.
type RoundCompletedEvent struct {
	baseEvent
	BattleID        string
	Round           int
	Findings        int
	Patches         int
	VerifiedPatches int
	RedScore        int // this round
	BlueScore       int // this round
	RedTotalScore   int
	BlueTotalScore  int
}

// NewRoundCompletedEvent creates a RoundCompletedEvent.
func NewRoundCompletedEvent(battleID string, round, findings, patches, verified, redScore, blueScore, redTotal, blueTotal int) RoundCompletedEvent {
	return RoundCompletedEvent{
		baseEvent:       newBaseEvent(TypeRoundCompleted),
		BattleID:        battleID,
		Round:           round,
		Findings:        findings,
		Patches:         patches,
		VerifiedPatches: verified,
		RedScore:        redScore,
		BlueScore:       blueScore,
		RedTotalScore:   redTotal,
		BlueTotalScore:  blueTotal,
	}
}

// CheckpointSavedEvent is emitted after the battle state is persisted.
type CheckpointSavedEvent struct {
	baseEvent
	BattleID string
	Round    int
}

// NewCheckpointSavedEvent creates a CheckpointSavedEvent.
func NewCheckpointSavedEvent(battleID string, round int) CheckpointSavedEvent {
	return CheckpointSavedEvent{
		baseEvent: newBaseEvent(TypeCheckpointSaved),
		BattleID:  battleID,
		Round:     round,
	}
}
