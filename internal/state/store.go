package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

// Store persists BattleState documents under <dataDir>/battles/<id>/state.json.
type Store struct {
	dataDir string
	mu      sync.RWMutex
}

// NewStore creates a Store rooted at dataDir, creating the battles directory.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(BattlesDir(dataDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create battles directory: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

// DataDir returns the root data directory.
func (s *Store) DataDir() string { return s.dataDir }

// Save validates and atomically persists the state. UpdatedAt is refreshed.
func (s *Store) Save(ctx context.Context, st *BattleState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(st.ID); err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UTC()
	if err := st.Validate(); err != nil {
		return errors.NewValidationError("refusing to save invalid battle state").
			WithField("state").WithValue(st.ID).WithCause(err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal battle state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := BattleDir(s.dataDir, st.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create battle directory: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, StateFileName), data, 0644)
}

// Load reads a battle by ID. A missing, unreadable or corrupt document is
// reported as a battle NotFoundError so front-ends never crash on bad state.
func (s *Store) Load(ctx context.Context, battleID string) (*BattleState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validID(battleID); err != nil {
		return nil, errors.NewNotFoundError("battle", battleID).WithCause(err)
	}

	s.mu.RLock()
	data, err := os.ReadFile(StatePath(s.dataDir, battleID))
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("battle", battleID)
		}
		return nil, errors.NewNotFoundError("battle", battleID).WithCause(err)
	}

	var st BattleState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.NewNotFoundError("battle", battleID).
			WithCause(fmt.Errorf("%w: %v", errors.ErrStateCorrupted, err))
	}
	if err := st.Validate(); err != nil {
		return nil, errors.NewNotFoundError("battle", battleID).
			WithCause(fmt.Errorf("%w: %v", errors.ErrStateCorrupted, err))
	}
	if st.ID != battleID {
		return nil, errors.NewNotFoundError("battle", battleID).
			WithCause(fmt.Errorf("%w: document id %q", errors.ErrStateCorrupted, st.ID))
	}
	return &st, nil
}

// SetStatus loads a battle, sets its status and persists it immediately.
func (s *Store) SetStatus(ctx context.Context, battleID string, status Status) (*BattleState, error) {
	if !status.Valid() {
		return nil, errors.NewValidationError("unknown status").WithField("status").WithValue(status)
	}
	st, err := s.Load(ctx, battleID)
	if err != nil {
		return nil, err
	}
	st.Status = status
	if status == StatusCompleted && st.CurrentRound != st.MaxRounds {
		st.EndedEarly = true
	}
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Exists reports whether a state document exists for battleID.
func (s *Store) Exists(battleID string) bool {
	if validID(battleID) != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(StatePath(s.dataDir, battleID))
	return err == nil
}

// List returns every loadable battle, newest first. Corrupt entries are skipped.
func (s *Store) List(ctx context.Context) ([]*BattleState, error) {
	entries, err := os.ReadDir(BattlesDir(s.dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list battles: %w", err)
	}

	var battles []*BattleState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		st, err := s.Load(ctx, entry.Name())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		battles = append(battles, st)
	}

	sort.Slice(battles, func(i, j int) bool {
		return battles[i].CreatedAt.After(battles[j].CreatedAt)
	})
	return battles, nil
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return errors.NewValidationError("invalid battle id").WithField("id").WithValue(id)
	}
	return nil
}

// atomicWriteFile writes data to a temp file in the same directory, then
// renames it over path so readers never observe a partial document.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
