package twin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/runner"
)

const gitTimeout = 60 * time.Second

// gitWorktreeBackend gives each team a detached git worktree of the target
// repository, reset to the commit recorded at creation.
type gitWorktreeBackend struct {
	opts   Options
	logger *logging.Logger
}

func newGitWorktreeBackend(opts Options) *gitWorktreeBackend {
	return &gitWorktreeBackend{opts: opts, logger: opts.Logger}
}

func (b *gitWorktreeBackend) Mode() Mode { return ModeGitWorktree }

func (b *gitWorktreeBackend) git(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := b.opts.Runner.Run(ctx, runner.Command{Dir: dir, Name: "git", Args: args, Timeout: gitTimeout})
	return res.Output(), err
}

// Create adds a detached worktree at <root>/<team> checked out at HEAD of the
// target. A leftover worktree from an earlier run is removed first.
func (b *gitWorktreeBackend) Create(ctx context.Context, team Team) (*Handle, error) {
	target := b.opts.Target
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		return nil, errors.NewTwinError("target directory does not exist", errors.ErrTargetNotFound).
			WithTeam(string(team)).WithMode(string(ModeGitWorktree)).WithPath(target)
	}

	out, err := b.git(ctx, target, "rev-parse", "HEAD")
	if err != nil {
		return nil, errors.NewTwinError("target is not a git repository with commits", errors.ErrNotGitRepository).
			WithTeam(string(team)).WithPath(target).WithOutput(out)
	}
	baseline := strings.TrimSpace(out)

	dir := b.opts.TeamDir(team)
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, errors.NewTwinError("failed to create twin root", err).WithTeam(string(team)).WithPath(dir)
	}
	if _, err := os.Stat(dir); err == nil {
		b.logger.Warn("removing stale worktree", "team", string(team), "path", dir)
		b.removeWorktree(ctx, dir)
	}

	if out, err := b.git(ctx, target, "worktree", "add", "--detach", dir, baseline); err != nil {
		return nil, errors.NewTwinError("failed to create worktree", err).
			WithTeam(string(team)).WithMode(string(ModeGitWorktree)).WithPath(dir).WithOutput(out)
	}

	b.logger.Info("worktree twin created", "team", string(team), "path", dir, "baseline", baseline)
	return &Handle{
		Team:     team,
		Dir:      dir,
		Target:   dir,
		Baseline: baseline,
	}, nil
}

// RestoreBaseline hard-resets the worktree to its baseline and removes every
// untracked and ignored file.
func (b *gitWorktreeBackend) RestoreBaseline(ctx context.Context, h *Handle) error {
	if out, err := b.git(ctx, h.Dir, "reset", "--hard", h.Baseline); err != nil {
		return errors.NewTwinError("failed to reset worktree", err).
			WithTeam(string(h.Team)).WithPath(h.Dir).WithOutput(out)
	}
	if out, err := b.git(ctx, h.Dir, "clean", "-fdx"); err != nil {
		return errors.NewTwinError("failed to clean worktree", err).
			WithTeam(string(h.Team)).WithPath(h.Dir).WithOutput(out)
	}
	return nil
}

// Teardown removes the worktree and prunes its registration.
func (b *gitWorktreeBackend) Teardown(ctx context.Context, h *Handle) error {
	if err := b.removeWorktree(ctx, h.Dir); err != nil {
		return errors.NewTwinError("failed to remove worktree cleanly", err).
			WithTeam(string(h.Team)).WithPath(h.Dir)
	}
	b.logger.Info("worktree twin removed", "team", string(h.Team), "path", h.Dir)
	return nil
}

// removeWorktree falls back to deleting the directory when git refuses, and
// always prunes so the target does not accumulate dead registrations.
func (b *gitWorktreeBackend) removeWorktree(ctx context.Context, dir string) error {
	_, err := b.git(ctx, b.opts.Target, "worktree", "remove", "--force", dir)
	if err != nil {
		_ = os.RemoveAll(dir)
	}
	_, _ = b.git(ctx, b.opts.Target, "worktree", "prune")
	return err
}
