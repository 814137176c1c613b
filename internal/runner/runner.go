// Package runner executes external programs as bounded subprocesses.
//
// Every invocation is an argument vector (never a shell string) with a
// timeout. git, docker, qemu-img and the audit/patch/research tools all go
// through a Runner so that tests can substitute a fake.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

// DefaultTimeout bounds commands that do not set their own timeout.
const DefaultTimeout = 2 * time.Minute

// Command describes one subprocess invocation.
type Command struct {
	Dir     string
	Name    string
	Args    []string
	Env     []string // appended to the inherited environment
	Stdin   io.Reader
	Timeout time.Duration
}

// String renders the argv for logs. It is never executed by a shell.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result captures a finished subprocess. It is returned even on failure.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Output returns stdout followed by stderr, trimmed.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout + r.Stderr)
}

// Runner executes commands.
type Runner interface {
	// Run executes cmd. A non-zero exit returns a *errors.ToolError that
	// matches errors.ErrToolFailed; exceeding the timeout returns a
	// *errors.TimeoutError. The Result is non-nil in both cases.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Exec runs commands with os/exec.
type Exec struct {
	// Env is added to every command's environment.
	Env []string
}

// NewExec creates an os/exec backed Runner.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes cmd and waits for it to finish or time out.
func (e *Exec) Run(ctx context.Context, c Command) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(e.Env) > 0 || len(c.Env) > 0 {
		cmd.Env = append(append(cmd.Environ(), e.Env...), c.Env...)
	}
	cmd.Stdin = c.Stdin
	// Give a killed process a moment to release its pipes.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.TimedOut = true
		return result, errors.NewTimeoutError(c.Name, timeout).WithCause(execCtx.Err())
	}
	if err := ctx.Err(); err != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s cancelled: %w", c.Name, err)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, errors.NewToolError(c.Name, errors.ErrToolFailed).
				WithExitCode(result.ExitCode).
				WithStderr(result.Stderr)
		}
		result.ExitCode = -1
		return result, errors.NewToolError(c.Name, runErr)
	}
	return result, nil
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
