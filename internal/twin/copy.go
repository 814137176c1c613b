package twin

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/logging"
)

// copyBackend makes a plain recursive copy of the target per team. It offers
// no isolation beyond directory separation.
type copyBackend struct {
	opts   Options
	fs     afero.Fs
	logger *logging.Logger
}

func newCopyBackend(opts Options) *copyBackend {
	return &copyBackend{opts: opts, fs: opts.Fs, logger: opts.Logger}
}

func (b *copyBackend) Mode() Mode { return ModeCopy }

// Create copies the target to <root>/<team>.
func (b *copyBackend) Create(ctx context.Context, team Team) (*Handle, error) {
	if _, err := b.fs.Stat(b.opts.Target); err != nil {
		return nil, errors.NewTwinError("target does not exist", errors.ErrTargetNotFound).
			WithTeam(string(team)).WithMode(string(ModeCopy)).WithPath(b.opts.Target)
	}
	dir := b.opts.TeamDir(team)
	h := &Handle{Team: team, Dir: dir, Target: dir}
	if err := b.recopy(ctx, h); err != nil {
		return nil, err
	}
	b.logger.Info("copy twin created", "team", string(team), "path", dir)
	return h, nil
}

// RestoreBaseline deletes the copy and copies the target again.
func (b *copyBackend) RestoreBaseline(ctx context.Context, h *Handle) error {
	return b.recopy(ctx, h)
}

// Teardown deletes the copy.
func (b *copyBackend) Teardown(ctx context.Context, h *Handle) error {
	if err := b.fs.RemoveAll(h.Dir); err != nil {
		return errors.NewTwinError("failed to remove copy", err).WithTeam(string(h.Team)).WithPath(h.Dir)
	}
	return nil
}

func (b *copyBackend) recopy(ctx context.Context, h *Handle) error {
	if err := b.fs.RemoveAll(h.Dir); err != nil {
		return errors.NewTwinError("failed to clear copy", err).WithTeam(string(h.Team)).WithPath(h.Dir)
	}
	if err := copyTree(ctx, b.fs, b.opts.Target, h.Dir); err != nil {
		return errors.NewTwinError("failed to copy target", err).WithTeam(string(h.Team)).WithPath(h.Dir)
	}
	return nil
}

// copyTree copies src (a file or directory) to dst on fs, preserving modes.
// Symlinks are skipped, and so is the directory holding dst, which keeps
// every team's twin out of the copy when the data dir is inside src.
func copyTree(ctx context.Context, fs afero.Fs, src, dst string) error {
	twins := filepath.Dir(dst)
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir() && path != src && (path == twins || path == dst):
			return filepath.SkipDir
		case info.IsDir():
			return fs.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			return nil
		default:
			return copyFile(fs, path, target, info.Mode().Perm())
		}
	})
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
