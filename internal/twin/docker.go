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

// DockerOptions configures container twins.
type DockerOptions struct {
	// Image is used as-is when set; otherwise the target's Dockerfile is built.
	Image        string
	BuildTimeout time.Duration
	// CommandTimeout bounds run/rm/rmi invocations.
	CommandTimeout time.Duration
}

// dockerBackend runs one long-lived container per team. Restore recreates the
// container from the same image.
type dockerBackend struct {
	opts   Options
	logger *logging.Logger
}

func newDockerBackend(opts Options) *dockerBackend {
	if opts.Docker.BuildTimeout <= 0 {
		opts.Docker.BuildTimeout = 10 * time.Minute
	}
	if opts.Docker.CommandTimeout <= 0 {
		opts.Docker.CommandTimeout = 2 * time.Minute
	}
	return &dockerBackend{opts: opts, logger: opts.Logger}
}

func (b *dockerBackend) Mode() Mode { return ModeDocker }

func (b *dockerBackend) docker(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	return runDocker(ctx, b.opts.Runner, timeout, args...)
}

// runDocker invokes the docker CLI and returns its combined output.
func runDocker(ctx context.Context, r runner.Runner, timeout time.Duration, args ...string) (string, error) {
	res, err := r.Run(ctx, runner.Command{Name: "docker", Args: args, Timeout: timeout})
	return res.Output(), err
}

// Create resolves the image (building the target's Dockerfile when no image
// was configured) and starts the team's container.
func (b *dockerBackend) Create(ctx context.Context, team Team) (*Handle, error) {
	if _, err := os.Stat(b.opts.Target); err != nil {
		return nil, errors.NewTwinError("target does not exist", errors.ErrTargetNotFound).
			WithTeam(string(team)).WithMode(string(ModeDocker)).WithPath(b.opts.Target)
	}

	dir := b.opts.TeamDir(team)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewTwinError("failed to create twin directory", err).WithTeam(string(team)).WithPath(dir)
	}

	name := b.opts.ContainerName(team)
	h := &Handle{
		Team:      team,
		Dir:       dir,
		Target:    containerTarget(name),
		Container: name,
		Image:     b.opts.Docker.Image,
	}

	if h.Image == "" {
		if err := b.buildImage(ctx, h); err != nil {
			return nil, err
		}
	}
	if err := b.startContainer(ctx, h); err != nil {
		if h.BuiltImage {
			_, _ = b.docker(ctx, b.opts.Docker.CommandTimeout, "rmi", "-f", h.Image)
		}
		return nil, err
	}

	b.logger.Info("container twin created", "team", string(team), "container", name, "image", h.Image)
	return h, nil
}

func (b *dockerBackend) buildImage(ctx context.Context, h *Handle) error {
	dockerfile := filepath.Join(b.opts.Target, "Dockerfile")
	if info, err := os.Stat(dockerfile); err != nil || info.IsDir() {
		return errors.NewTwinError("no image configured and no Dockerfile in target", errors.ErrDockerfileMissing).
			WithTeam(string(h.Team)).WithMode(string(ModeDocker)).WithPath(dockerfile)
	}

	tag := h.Container
	out, err := b.docker(ctx, b.opts.Docker.BuildTimeout, "build", "-t", tag, "-f", dockerfile, b.opts.Target)
	if err != nil {
		return errors.NewTwinError("docker build failed", errors.Join(errors.ErrImageBuildFailed, err)).
			WithTeam(string(h.Team)).WithMode(string(ModeDocker)).WithOutput(lastLines(out, 20))
	}
	h.Image = tag
	h.BuiltImage = true
	return nil
}

func (b *dockerBackend) startContainer(ctx context.Context, h *Handle) error {
	// A container left by a crashed run would make `docker run --name` fail.
	_, _ = b.docker(ctx, b.opts.Docker.CommandTimeout, "rm", "-f", h.Container)

	args := []string{
		"run", "-d",
		"--name", h.Container,
		"--label", "twinbattle.battle=" + b.opts.BattleID,
		"--label", "twinbattle.team=" + string(h.Team),
		h.Image,
		"sleep", "infinity",
	}
	if out, err := b.docker(ctx, b.opts.Docker.CommandTimeout, args...); err != nil {
		return errors.NewTwinError("failed to start container", err).
			WithTeam(string(h.Team)).WithMode(string(ModeDocker)).WithOutput(out)
	}
	return nil
}

// RestoreBaseline removes the container and starts a new one from the same image.
func (b *dockerBackend) RestoreBaseline(ctx context.Context, h *Handle) error {
	return b.startContainer(ctx, h)
}

// Teardown removes the container and, if the backend built it, the image.
func (b *dockerBackend) Teardown(ctx context.Context, h *Handle) error {
	var errs []error
	if out, err := b.docker(ctx, b.opts.Docker.CommandTimeout, "rm", "-f", h.Container); err != nil {
		errs = append(errs, errors.NewTwinError("failed to remove container", err).
			WithTeam(string(h.Team)).WithOutput(out))
	}
	if h.BuiltImage {
		if out, err := b.docker(ctx, b.opts.Docker.CommandTimeout, "rmi", "-f", h.Image); err != nil {
			errs = append(errs, errors.NewTwinError("failed to remove built image", err).
				WithTeam(string(h.Team)).WithOutput(out))
		}
	}
	_ = os.RemoveAll(h.Dir)
	return errors.Join(errs...)
}

// lastLines keeps the tail of noisy build output for error messages.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
