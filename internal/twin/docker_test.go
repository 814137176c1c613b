package twin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/runner"
	"github.com/Iron-Ham/twinbattle/internal/testutil"
)

func newDockerTest(t *testing.T, image string, fake *testutil.FakeRunner) (Backend, string) {
	t.Helper()
	target := t.TempDir()
	b, err := NewBackend(ModeDocker, Options{
		BattleID: "battle1",
		Target:   target,
		Root:     t.TempDir(),
		Runner:   fake,
		Docker:   DockerOptions{Image: image},
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	return b, target
}

func TestDocker_CreateWithImage(t *testing.T) {
	fake := &testutil.FakeRunner{}
	b, _ := newDockerTest(t, "alpine:3.20", fake)

	h, err := b.Create(context.Background(), Red)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if h.Target != "container:twinbattle-battle1-red" {
		t.Errorf("Target = %q", h.Target)
	}
	if h.BuiltImage {
		t.Error("configured image must not be marked as built")
	}
	if fake.Count("docker build") != 0 {
		t.Error("should not build when an image is configured")
	}
	lines := fake.Lines()
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "docker run -d --name twinbattle-battle1-red") || !strings.HasSuffix(last, "alpine:3.20 sleep infinity") {
		t.Errorf("run command = %q", last)
	}
}

func TestDocker_BuildsDockerfile(t *testing.T) {
	fake := &testutil.FakeRunner{}
	b, target := newDockerTest(t, "", fake)
	testutil.WriteTree(t, target, map[string]string{"Dockerfile": "FROM alpine\n"})

	h, err := b.Create(context.Background(), Blue)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !h.BuiltImage || h.Image != "twinbattle-battle1-blue" {
		t.Errorf("Image = %q, BuiltImage = %v", h.Image, h.BuiltImage)
	}
	if fake.Count("docker build -t twinbattle-battle1-blue") != 1 {
		t.Errorf("commands = %v", fake.Lines())
	}

	fake.Reset()
	if err := b.Teardown(context.Background(), h); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if fake.Count("docker rmi -f twinbattle-battle1-blue") != 1 {
		t.Errorf("built image should be removed, commands = %v", fake.Lines())
	}
}

func TestDocker_MissingDockerfile(t *testing.T) {
	fake := &testutil.FakeRunner{}
	b, _ := newDockerTest(t, "", fake)

	_, err := b.Create(context.Background(), Red)
	if !errors.Is(err, errors.ErrDockerfileMissing) {
		t.Errorf("Create() error = %v, want ErrDockerfileMissing", err)
	}
	if len(fake.Commands()) != 0 {
		t.Errorf("no docker command should run, got %v", fake.Lines())
	}
}

func TestDocker_BuildFailureIsSetupError(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(cmd runner.Command) (string, int) {
		if cmd.Args[0] == "build" {
			return "step 2/3: RUN make\nmake: *** [all] Error 2", 1
		}
		return "", 0
	}}
	b, target := newDockerTest(t, "", fake)
	testutil.WriteTree(t, target, map[string]string{"Dockerfile": "FROM alpine\nRUN make\n"})

	_, err := b.Create(context.Background(), Red)
	if !errors.Is(err, errors.ErrImageBuildFailed) {
		t.Fatalf("Create() error = %v, want ErrImageBuildFailed", err)
	}
	if !errors.IsSetupError(err) {
		t.Error("build failure should be a setup error")
	}
	if !strings.Contains(err.Error(), "make: ***") {
		t.Errorf("error should carry build output: %v", err)
	}
}

func TestDocker_RestoreRecreatesContainer(t *testing.T) {
	fake := &testutil.FakeRunner{}
	b, _ := newDockerTest(t, "alpine:3.20", fake)
	h, err := b.Create(context.Background(), Red)
	if err != nil {
		t.Fatal(err)
	}

	fake.Reset()
	if err := b.RestoreBaseline(context.Background(), h); err != nil {
		t.Fatalf("RestoreBaseline() error = %v", err)
	}
	lines := fake.Lines()
	if len(lines) != 2 || lines[0] != "docker rm -f twinbattle-battle1-red" || !strings.HasPrefix(lines[1], "docker run -d") {
		t.Errorf("restore commands = %v", lines)
	}
}

func TestDocker_MissingTarget(t *testing.T) {
	b, err := NewBackend(ModeDocker, Options{Target: filepath.Join(os.TempDir(), "twinbattle-missing-target"), Root: t.TempDir(), Runner: &testutil.FakeRunner{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Create(context.Background(), Red); !errors.Is(err, errors.ErrTargetNotFound) {
		t.Errorf("Create() error = %v, want ErrTargetNotFound", err)
	}
}
