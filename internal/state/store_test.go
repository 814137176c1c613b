package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	st := New("b1", "/src/app", "docker", 10, 2)
	st.CurrentRound = 4
	st.RedTotalScore = 70
	st.BlueTotalScore = 40
	st.DockerImage = "app:latest"

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "b1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.CurrentRound != 4 || loaded.RedTotalScore != 70 || loaded.BlueTotalScore != 40 {
		t.Errorf("Load() = %+v, round/score mismatch", loaded)
	}
	if loaded.Mode != "docker" || loaded.DockerImage != "app:latest" {
		t.Errorf("Load() mode = %q image = %q", loaded.Mode, loaded.DockerImage)
	}
	if loaded.CheckpointInterval != 2 {
		t.Errorf("CheckpointInterval = %d, want 2", loaded.CheckpointInterval)
	}

	// Idempotent: saving the loaded state again yields the same round.
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	again, err := store.Load(ctx, "b1")
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if again.CurrentRound != loaded.CurrentRound {
		t.Errorf("CurrentRound drifted: %d != %d", again.CurrentRound, loaded.CurrentRound)
	}
}

func TestStore_SaveWritesExpectedLayout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Save(ctx, New("b1", "/src", "copy", 3, 1)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	path := filepath.Join(store.DataDir(), "battles", "b1", "state.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file missing at %s: %v", path, err)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if e.Name() != StateFileName {
			t.Errorf("unexpected file %q in battle dir", e.Name())
		}
	}
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	st := New("b1", "/src", "copy", 3, 1)
	st.CurrentRound = 4
	if err := store.Save(ctx, st); err == nil {
		t.Fatal("Save() should reject current_round > max_rounds")
	}
	if store.Exists("b1") {
		t.Error("invalid state must not be written")
	}

	if err := store.Save(ctx, New("../escape", "/src", "copy", 3, 1)); err == nil {
		t.Error("Save() should reject path-like ids")
	}
}

func TestStore_LoadMissingIsBattleNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, errors.ErrBattleNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrBattleNotFound", err)
	}
}

func TestStore_LoadCorruptIsBattleNotFound(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"invariant violation", `{"id":"bad","status":"running","current_round":9,"max_rounds":3}`},
		{"unknown status", `{"id":"bad","status":"zombie","current_round":0,"max_rounds":3}`},
		{"mismatched id", `{"id":"other","status":"running","current_round":0,"max_rounds":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			dir := BattleDir(store.DataDir(), "bad")
			if err := os.MkdirAll(dir, 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, StateFileName), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := store.Load(context.Background(), "bad")
			if !errors.Is(err, errors.ErrBattleNotFound) {
				t.Errorf("Load(corrupt) error = %v, want ErrBattleNotFound", err)
			}
		})
	}
}

func TestStore_SetStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	st := New("b1", "/src", "copy", 5, 1)
	st.CurrentRound = 2
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	updated, err := store.SetStatus(ctx, "b1", StatusPaused)
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if updated.Status != StatusPaused {
		t.Errorf("Status = %q, want paused", updated.Status)
	}

	// Visible immediately to another reader
	loaded, err := store.Load(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != StatusPaused {
		t.Errorf("persisted Status = %q, want paused", loaded.Status)
	}

	// Completing early marks the record
	done, err := store.SetStatus(ctx, "b1", StatusCompleted)
	if err != nil {
		t.Fatalf("SetStatus(completed) error = %v", err)
	}
	if !done.EndedEarly {
		t.Error("early completion should set EndedEarly")
	}

	if _, err := store.SetStatus(ctx, "missing", StatusPaused); !errors.Is(err, errors.ErrBattleNotFound) {
		t.Errorf("SetStatus(missing) error = %v", err)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	older := New("older", "/a", "copy", 3, 1)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := New("newer", "/b", "copy", 3, 1)
	for _, st := range []*BattleState{older, newer} {
		if err := store.Save(ctx, st); err != nil {
			t.Fatal(err)
		}
	}
	// A corrupt entry is skipped rather than failing the listing
	corruptDir := BattleDir(store.DataDir(), "corrupt")
	_ = os.MkdirAll(corruptDir, 0755)
	_ = os.WriteFile(filepath.Join(corruptDir, StateFileName), []byte("{"), 0644)

	battles, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(battles) != 2 {
		t.Fatalf("List() returned %d battles, want 2", len(battles))
	}
	if battles[0].ID != "newer" || battles[1].ID != "older" {
		t.Errorf("List() order = [%s, %s], want newest first", battles[0].ID, battles[1].ID)
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(round int) {
			defer wg.Done()
			st := New("b1", "/src", "copy", 20, 1)
			st.CurrentRound = round
			if err := store.Save(ctx, st); err != nil {
				t.Errorf("Save(round %d) error = %v", round, err)
			}
		}(i)
	}
	wg.Wait()

	// Whatever write won, the document is whole and valid
	if _, err := store.Load(ctx, "b1"); err != nil {
		t.Errorf("Load() after concurrent saves error = %v", err)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, New("b1", "/src", "copy", 3, 1)); err == nil {
		t.Error("Save() with canceled context should fail")
	}
}
