package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExec_Success(t *testing.T) {
	requireSh(t)
	r := NewExec()

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err 1>&2"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	requireSh(t)
	r := NewExec()

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo nope 1>&2; exit 3"}})
	if err == nil {
		t.Fatal("Run() should fail on exit 3")
	}
	if !errors.Is(err, errors.ErrToolFailed) {
		t.Errorf("error = %v, want ErrToolFailed", err)
	}
	var toolErr *errors.ToolError
	if !errors.As(err, &toolErr) || toolErr.ExitCode != 3 {
		t.Errorf("ToolError = %+v, want exit 3", toolErr)
	}
	if res == nil || res.ExitCode != 3 {
		t.Errorf("Result = %+v, want exit 3", res)
	}
}

func TestExec_Timeout(t *testing.T) {
	requireSh(t)
	r := NewExec()

	start := time.Now()
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "sleep 10"}, Timeout: 100 * time.Millisecond})
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Errorf("Result = %+v, want timed out", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestExec_ArgvIsNotShellInterpreted(t *testing.T) {
	requireSh(t)
	r := NewExec()

	// The whole string is one argument to echo, not a command sequence.
	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"a; echo injected"}})
	if err != nil {
		t.Skipf("echo not runnable: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "a; echo injected" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestExec_MissingBinary(t *testing.T) {
	r := NewExec()
	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("Run() should fail for a missing binary")
	}
	if errors.Is(err, errors.ErrToolFailed) {
		t.Error("spawn failure should not look like a non-zero exit")
	}
}

func TestExec_Env(t *testing.T) {
	requireSh(t)
	r := &Exec{Env: []string{"TB_A=1"}}
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo $TB_A$TB_B"}, Env: []string{"TB_B=2"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "12" {
		t.Errorf("Stdout = %q, want 12", res.Stdout)
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "git", Args: []string{"worktree", "add", "--detach", "/tmp/x"}}
	if got := c.String(); got != "git worktree add --detach /tmp/x" {
		t.Errorf("String() = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 0, ""},
		{"abcdef", 2, "ab"},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
