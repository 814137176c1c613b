package state

import "path/filepath"

const (
	// StateFileName is the name of the state document inside a battle directory.
	StateFileName = "state.json"
	// MemoryFileName is the shared team memory database under the data dir.
	MemoryFileName = "memory.db"
)

// BattlesDir returns the directory holding every battle.
func BattlesDir(dataDir string) string {
	return filepath.Join(dataDir, "battles")
}

// BattleDir returns the directory for a specific battle.
func BattleDir(dataDir, battleID string) string {
	return filepath.Join(BattlesDir(dataDir), battleID)
}

// StatePath returns the path to a battle's state document.
func StatePath(dataDir, battleID string) string {
	return filepath.Join(BattleDir(dataDir, battleID), StateFileName)
}

// TwinsDir returns the directory holding a battle's per-team twins.
func TwinsDir(dataDir, battleID string) string {
	return filepath.Join(dataDir, "twins", battleID)
}

// ReportsDir returns the directory holding rendered reports.
func ReportsDir(dataDir string) string {
	return filepath.Join(dataDir, "reports")
}

// ReportPath returns the markdown report path for a battle.
func ReportPath(dataDir, battleID string) string {
	return filepath.Join(ReportsDir(dataDir), battleID+".md")
}

// MemoryPath returns the team memory database path.
func MemoryPath(dataDir string) string {
	return filepath.Join(dataDir, MemoryFileName)
}
