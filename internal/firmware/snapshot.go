package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// SnapshotsFileName is the per-team sidecar recording saved snapshots.
const SnapshotsFileName = "snapshots.yaml"

// SnapshotMeta records one saved machine state.
type SnapshotMeta struct {
	Name           string `yaml:"name"`
	CreatedAtEpoch int64  `yaml:"created_at_epoch"`
	TeamDir        string `yaml:"team_dir"`
	Machine        string `yaml:"machine,omitempty"`
}

type snapshotFile struct {
	Snapshots []SnapshotMeta `yaml:"snapshots"`
}

// LoadSnapshots reads the sidecar in teamDir. A missing file yields no snapshots.
func LoadSnapshots(teamDir string) ([]SnapshotMeta, error) {
	data, err := os.ReadFile(filepath.Join(teamDir, SnapshotsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}
	var f snapshotFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot metadata: %w", err)
	}
	return f.Snapshots, nil
}

// FindSnapshot returns the metadata for name, if recorded.
func FindSnapshot(teamDir, name string) (SnapshotMeta, bool) {
	snaps, err := LoadSnapshots(teamDir)
	if err != nil {
		return SnapshotMeta{}, false
	}
	for _, s := range snaps {
		if s.Name == name {
			return s, true
		}
	}
	return SnapshotMeta{}, false
}

// recordSnapshot upserts meta into the sidecar, keeping one entry per name.
func recordSnapshot(teamDir string, meta SnapshotMeta) error {
	snaps, err := LoadSnapshots(teamDir)
	if err != nil {
		// A corrupt sidecar is replaced rather than blocking snapshotting.
		snaps = nil
	}
	replaced := false
	for i := range snaps {
		if snaps[i].Name == meta.Name {
			snaps[i] = meta
			replaced = true
		}
	}
	if !replaced {
		snaps = append(snaps, meta)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

	data, err := yaml.Marshal(snapshotFile{Snapshots: snaps})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}
	if err := os.MkdirAll(teamDir, 0755); err != nil {
		return fmt.Errorf("failed to create team directory: %w", err)
	}
	tmp := filepath.Join(teamDir, "."+SnapshotsFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot metadata: %w", err)
	}
	return os.Rename(tmp, filepath.Join(teamDir, SnapshotsFileName))
}

func newSnapshotMeta(name, teamDir string, m Machine) SnapshotMeta {
	return SnapshotMeta{
		Name:           name,
		CreatedAtEpoch: time.Now().Unix(),
		TeamDir:        teamDir,
		Machine:        string(m),
	}
}
