// Package tool invokes the external audit and patch programs that do the
// actual offensive and defensive work. Their output is parsed into explicit
// result structs at this boundary; anything malformed or missing fails
// closed to empty or false values.
package tool

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/runner"
)

const (
	// DefaultTimeout bounds each tool invocation.
	DefaultTimeout = 300 * time.Second
	// DefaultEvidenceChars caps the stdout kept as evidence.
	DefaultEvidenceChars = 1000
)

// AuditFinding is one issue reported by the audit tool. Type and Severity
// are passed through as reported; callers map them onto closed sets.
type AuditFinding struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	FilePath    string   `json:"file"`
	Line        int      `json:"line,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AuditReport is the parsed result of one `scan`.
type AuditReport struct {
	Findings []AuditFinding
	// Evidence is the truncated raw stdout.
	Evidence string
	ExitCode int
	Duration time.Duration
	// ParseError is set when stdout was not the expected JSON.
	ParseError string
	// Err is the execution error (timeout, non-zero exit, spawn failure).
	Err error
}

// PatchReport is the parsed result of one `fix`.
type PatchReport struct {
	// Verified is true only when the tool exited 0.
	Verified bool
	// FunctionalityPreserved is read from the tool's JSON; missing is false.
	FunctionalityPreserved bool
	Type                   string
	Diff                   string
	Evidence               string
	ExitCode               int
	Duration               time.Duration
	Err                    error
}

// Runner is the collaborator the agents act through.
type Runner interface {
	Audit(ctx context.Context, target string) AuditReport
	Patch(ctx context.Context, issue, target string) PatchReport
}

// Options configures a Subprocess runner.
type Options struct {
	AuditCommand  string
	PatchCommand  string
	Timeout       time.Duration
	EvidenceChars int
	Exec          runner.Runner
	Logger        *logging.Logger
}

// Subprocess runs the tools as bounded child processes:
//
//	<audit> scan <target> --json
//	<patch> fix <issue> --target <target>
type Subprocess struct {
	opts Options
}

// NewSubprocess creates a Subprocess runner.
func NewSubprocess(opts Options) *Subprocess {
	if opts.AuditCommand == "" {
		opts.AuditCommand = "audit-tool"
	}
	if opts.PatchCommand == "" {
		opts.PatchCommand = "patch-tool"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.EvidenceChars <= 0 {
		opts.EvidenceChars = DefaultEvidenceChars
	}
	if opts.Exec == nil {
		opts.Exec = runner.NewExec()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Subprocess{opts: opts}
}

// Audit scans target and returns the findings it reports.
func (s *Subprocess) Audit(ctx context.Context, target string) AuditReport {
	res, err := s.opts.Exec.Run(ctx, runner.Command{
		Name:    s.opts.AuditCommand,
		Args:    []string{"scan", target, "--json"},
		Timeout: s.opts.Timeout,
	})
	report := AuditReport{Err: err}
	if res != nil {
		report.Evidence = runner.Truncate(strings.TrimSpace(res.Stdout), s.opts.EvidenceChars)
		report.ExitCode = res.ExitCode
		report.Duration = res.Duration
		if !res.TimedOut {
			findings, perr := ParseFindings(res.Stdout)
			report.Findings = findings
			if perr != nil {
				report.ParseError = perr.Error()
			}
		}
	}
	if err != nil {
		s.opts.Logger.Warn("audit tool failed", "target", target, "exit_code", report.ExitCode, "error", err.Error())
	}
	return report
}

// Patch asks the patch tool to fix issue in target.
func (s *Subprocess) Patch(ctx context.Context, issue, target string) PatchReport {
	res, err := s.opts.Exec.Run(ctx, runner.Command{
		Name:    s.opts.PatchCommand,
		Args:    []string{"fix", issue, "--target", target},
		Timeout: s.opts.Timeout,
	})
	report := PatchReport{Err: err}
	if res != nil {
		report.Evidence = runner.Truncate(strings.TrimSpace(res.Stdout), s.opts.EvidenceChars)
		report.ExitCode = res.ExitCode
		report.Duration = res.Duration
		out := ParsePatchOutput(res.Stdout)
		report.Diff = out.Diff
		report.Type = out.Type
		report.FunctionalityPreserved = out.FunctionalityPreserved != nil && *out.FunctionalityPreserved
	}
	report.Verified = err == nil && res != nil && res.ExitCode == 0
	if !report.Verified {
		report.FunctionalityPreserved = false
	}
	if err != nil {
		s.opts.Logger.Warn("patch tool failed", "target", target, "exit_code", report.ExitCode, "error", err.Error())
	}
	return report
}

// PatchOutput is the optional JSON a patch tool prints on stdout.
type PatchOutput struct {
	Type                   string `json:"type"`
	Diff                   string `json:"diff"`
	FunctionalityPreserved *bool  `json:"functionality_preserved"`
}

// ParsePatchOutput reads the last JSON object on stdout. Non-JSON output
// yields the zero value.
func ParsePatchOutput(stdout string) PatchOutput {
	var out PatchOutput
	obj := lastJSONObject(stdout)
	if obj == "" {
		return out
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return PatchOutput{}
	}
	return out
}

// lastJSONObject returns the last line of s that looks like a JSON object,
// or the whole of s when it is one.
func lastJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && json.Valid([]byte(s)) {
		return s
	}
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && json.Valid([]byte(line)) {
			return line
		}
	}
	return ""
}
