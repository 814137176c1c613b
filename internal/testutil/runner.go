package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/runner"
)

// FakeRunner records commands and answers them from a handler. With no
// handler every command succeeds with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	commands []runner.Command

	// Handler returns stdout and exit code for a command. A non-zero exit
	// code makes Run return a ToolError like the real runner does.
	Handler func(cmd runner.Command) (stdout string, exitCode int)
}

// Run records cmd and returns the handler's answer.
func (f *FakeRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	handler := f.Handler
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &runner.Result{ExitCode: -1}, err
	}

	res := &runner.Result{}
	if handler != nil {
		res.Stdout, res.ExitCode = handler(cmd)
	}
	if res.ExitCode != 0 {
		res.Stderr = res.Stdout
		return res, errors.NewToolError(cmd.Name, errors.ErrToolFailed).
			WithExitCode(res.ExitCode).
			WithStderr(res.Stderr)
	}
	return res, nil
}

// Commands returns a copy of every recorded command.
func (f *FakeRunner) Commands() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.commands...)
}

// Lines renders recorded commands as "name arg arg" strings.
func (f *FakeRunner) Lines() []string {
	cmds := f.Commands()
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return lines
}

// Count returns how many recorded commands start with prefix.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, line := range f.Lines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// Reset forgets recorded commands.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}
