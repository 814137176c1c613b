// Package twin creates, restores and tears down the per-team isolated copies
// of a battle target ("digital twins").
//
// A Mode is parsed once, when a battle is created or resumed, into a Backend
// implementation; nothing downstream dispatches on the mode string again.
package twin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/runner"
)

// Team identifies one side of a battle.
type Team string

const (
	Red  Team = "red"
	Blue Team = "blue"
)

// Teams returns both teams in execution order.
func Teams() []Team { return []Team{Red, Blue} }

// Opponent returns the other team.
func (t Team) Opponent() Team {
	if t == Red {
		return Blue
	}
	return Red
}

// Mode selects the isolation backend.
type Mode string

const (
	ModeGitWorktree Mode = "git_worktree"
	ModeDocker      Mode = "docker"
	ModeQEMU        Mode = "qemu"
	ModeCopy        Mode = "copy"
)

// Modes returns every supported mode.
func Modes() []Mode {
	return []Mode{ModeGitWorktree, ModeDocker, ModeQEMU, ModeCopy}
}

// ParseMode converts user input into a Mode. Unknown values return an
// error matching errors.ErrInvalidMode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", errors.NewValidationError(fmt.Sprintf("unknown twin mode %q", s)).
		WithField("mode").
		WithValue(s).
		WithCause(errors.ErrInvalidMode)
}

// Handle references one team's twin.
type Handle struct {
	Team Team
	// Dir is the team's host directory: the worktree or copy itself, or a
	// scratch directory for container and emulator twins.
	Dir string
	// Target is what tools are pointed at: a directory for filesystem twins,
	// "container:<name>" for container and emulator twins.
	Target string
	// Container is the container name for docker and qemu twins.
	Container string
	// Image is the image the container was started from.
	Image string
	// BuiltImage is true when Image was built by the backend and must be
	// removed on teardown.
	BuiltImage bool
	// Baseline is the commit a worktree twin is reset to.
	Baseline string
}

// Backend is the isolation contract shared by all modes.
type Backend interface {
	// Create builds a fresh twin for team. Failures are setup errors.
	Create(ctx context.Context, team Team) (*Handle, error)
	// RestoreBaseline returns the twin to its clean starting point.
	RestoreBaseline(ctx context.Context, h *Handle) error
	// Teardown removes the twin and anything the backend built for it.
	Teardown(ctx context.Context, h *Handle) error
	// Mode reports which variant this is.
	Mode() Mode
}

// Options carries what every backend needs. Unused fields are ignored by
// backends that do not need them.
type Options struct {
	BattleID string
	Target   string
	// Root is the directory under which per-team twin directories are made,
	// normally <data>/twins/<battle>.
	Root   string
	Runner runner.Runner
	Logger *logging.Logger

	// Fs backs the copy mode. Defaults to the OS filesystem.
	Fs afero.Fs

	Docker DockerOptions
	QEMU   QEMUOptions
}

// TeamDir returns the per-team directory under Root.
func (o Options) TeamDir(team Team) string {
	return filepath.Join(o.Root, string(team))
}

// ContainerName returns the per-team container name.
func (o Options) ContainerName(team Team) string {
	return fmt.Sprintf("twinbattle-%s-%s", shortID(o.BattleID), team)
}

func shortID(id string) string {
	id = strings.ToLower(id)
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// NewBackend binds mode to its implementation. This is the only place a
// Mode is dispatched on.
func NewBackend(mode Mode, opts Options) (Backend, error) {
	if opts.Runner == nil {
		opts.Runner = runner.NewExec()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	opts.Logger = opts.Logger.With("mode", string(mode))

	switch mode {
	case ModeGitWorktree:
		return newGitWorktreeBackend(opts), nil
	case ModeDocker:
		return newDockerBackend(opts), nil
	case ModeQEMU:
		return newQEMUBackend(opts)
	case ModeCopy:
		return newCopyBackend(opts), nil
	default:
		_, err := ParseMode(string(mode))
		return nil, err
	}
}

func containerTarget(name string) string {
	return "container:" + name
}
