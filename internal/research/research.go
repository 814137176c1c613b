// Package research looks up technique knowledge for an agent. Callers own
// the budget; a Researcher only answers one topic per call.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/runner"
)

// Result is the typed answer to one lookup.
type Result struct {
	Topic   string   `json:"topic"`
	Summary string   `json:"summary"`
	Sources []string `json:"sources,omitempty"`
}

// Researcher answers one research topic.
type Researcher interface {
	Research(ctx context.Context, topic string) (Result, error)
}

// ErrEmptyResult is returned when a lookup produced nothing usable. It
// counts as a failed call.
var ErrEmptyResult = errors.New("research returned no summary")

// Tool runs an external research program as `<command> lookup <topic> --json`.
// The program prints {"summary": "...", "sources": [...]}.
type Tool struct {
	Command       string
	Timeout       time.Duration
	EvidenceChars int
	Exec          runner.Runner
}

// NewTool creates a subprocess Researcher.
func NewTool(command string, timeout time.Duration, exec runner.Runner) *Tool {
	if exec == nil {
		exec = runner.NewExec()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Tool{Command: command, Timeout: timeout, EvidenceChars: 1000, Exec: exec}
}

// Research runs the program and parses its JSON answer.
func (t *Tool) Research(ctx context.Context, topic string) (Result, error) {
	res, err := t.Exec.Run(ctx, runner.Command{
		Name:    t.Command,
		Args:    []string{"lookup", topic, "--json"},
		Timeout: t.Timeout,
	})
	if err != nil {
		return Result{}, err
	}

	var out struct {
		Summary string   `json:"summary"`
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &out); err != nil {
		return Result{}, fmt.Errorf("%w: malformed output: %v", ErrEmptyResult, err)
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return Result{}, ErrEmptyResult
	}
	return Result{Topic: topic, Summary: runner.Truncate(summary, t.EvidenceChars), Sources: out.Sources}, nil
}
