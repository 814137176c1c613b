package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/runner"
	"github.com/Iron-Ham/twinbattle/internal/testutil"
)

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"wrapped", `{"findings":[{"type":"sql_injection","severity":"high","description":"login","file":"app.py"}]}`, 1, false},
		{"bare array", `[{"type":"xss","description":"a"},{"type":"rce","description":"b"}]`, 2, false},
		{"no findings key", `{"status":"ok"}`, 0, false},
		{"plain text", "scanning...\ndone", 0, true},
		{"truncated json", `{"findings":[{"type":"xss"`, 0, true},
		{"wrong field types", `[{"type":42}]`, 0, true},
		{"partial", `[{"type":"xss","description":"a"},{}]`, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFindings(tt.in)
			assert.Len(t, got, tt.want)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParsePatchOutput(t *testing.T) {
	out := ParsePatchOutput("applying...\n{\"type\":\"input_validation\",\"diff\":\"--- a\",\"functionality_preserved\":true}\n")
	assert.Equal(t, "input_validation", out.Type)
	require.NotNil(t, out.FunctionalityPreserved)
	assert.True(t, *out.FunctionalityPreserved)

	missing := ParsePatchOutput(`{"diff":"x"}`)
	assert.Nil(t, missing.FunctionalityPreserved)

	assert.Equal(t, PatchOutput{}, ParsePatchOutput("patched 3 files"))
	assert.Equal(t, PatchOutput{}, ParsePatchOutput(`{"functionality_preserved":"yes"}`))
}

func TestSubprocess_Audit(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(cmd runner.Command) (string, int) {
		return `{"findings":[{"id":"f1","type":"buffer_overflow","severity":"critical","description":"strcpy","file":"src/io.c"}]}`, 0
	}}
	s := NewSubprocess(Options{AuditCommand: "auditor", Exec: fake})

	report := s.Audit(context.Background(), "/twins/red")
	require.NoError(t, report.Err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "buffer_overflow", report.Findings[0].Type)
	assert.Equal(t, "src/io.c", report.Findings[0].FilePath)
	assert.Empty(t, report.ParseError)

	cmds := fake.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "auditor", cmds[0].Name)
	assert.Equal(t, []string{"scan", "/twins/red", "--json"}, cmds[0].Args)
	assert.Equal(t, DefaultTimeout, cmds[0].Timeout)
}

func TestSubprocess_AuditMalformedFailsClosed(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(runner.Command) (string, int) {
		return "Traceback (most recent call last): boom", 0
	}}
	report := NewSubprocess(Options{Exec: fake}).Audit(context.Background(), "/t")
	assert.Empty(t, report.Findings)
	assert.NotEmpty(t, report.ParseError)
	assert.NoError(t, report.Err)
	assert.Contains(t, report.Evidence, "Traceback")
}

func TestSubprocess_AuditNonZeroExit(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(runner.Command) (string, int) {
		return `[{"type":"xss","description":"reflected"}]`, 2
	}}
	report := NewSubprocess(Options{Exec: fake}).Audit(context.Background(), "/t")
	assert.True(t, errors.Is(report.Err, errors.ErrToolFailed))
	assert.Equal(t, 2, report.ExitCode)
	assert.Len(t, report.Findings, 1, "findings printed before a non-zero exit are kept")
}

func TestSubprocess_EvidenceTruncated(t *testing.T) {
	long := strings.Repeat("x", 5000)
	fake := &testutil.FakeRunner{Handler: func(runner.Command) (string, int) { return long, 0 }}
	report := NewSubprocess(Options{Exec: fake, EvidenceChars: 200}).Audit(context.Background(), "/t")
	assert.Len(t, []rune(report.Evidence), 200)
	assert.True(t, strings.HasSuffix(report.Evidence, "..."))
}

func TestSubprocess_Patch(t *testing.T) {
	tests := []struct {
		name          string
		stdout        string
		exit          int
		wantVerified  bool
		wantPreserved bool
	}{
		{"verified and preserved", `{"functionality_preserved":true,"diff":"+check"}`, 0, true, true},
		{"verified, flag missing", `patched`, 0, true, false},
		{"verified, not preserved", `{"functionality_preserved":false}`, 0, true, false},
		{"failed exit", `{"functionality_preserved":true}`, 1, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &testutil.FakeRunner{Handler: func(runner.Command) (string, int) { return tt.stdout, tt.exit }}
			s := NewSubprocess(Options{PatchCommand: "patcher", Exec: fake})

			report := s.Patch(context.Background(), "sql_injection in login", "/twins/blue")
			assert.Equal(t, tt.wantVerified, report.Verified)
			assert.Equal(t, tt.wantPreserved, report.FunctionalityPreserved)

			cmd := fake.Commands()[0]
			assert.Equal(t, "patcher", cmd.Name)
			assert.Equal(t, []string{"fix", "sql_injection in login", "--target", "/twins/blue"}, cmd.Args)
		})
	}
}

func TestSubprocess_PatchIssueTextIsOneArgument(t *testing.T) {
	fake := &testutil.FakeRunner{}
	issue := `x"; rm -rf / #`
	NewSubprocess(Options{Exec: fake}).Patch(context.Background(), issue, "/t")
	assert.Equal(t, issue, fake.Commands()[0].Args[1])
}

func TestSubprocess_Timeout(t *testing.T) {
	slow := timeoutRunner{}
	s := NewSubprocess(Options{Exec: slow, Timeout: time.Millisecond})

	audit := s.Audit(context.Background(), "/t")
	assert.True(t, errors.Is(audit.Err, errors.ErrTimeout))
	assert.Empty(t, audit.Findings)

	patch := s.Patch(context.Background(), "issue", "/t")
	assert.False(t, patch.Verified)
}

type timeoutRunner struct{}

func (timeoutRunner) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	return &runner.Result{Stdout: `[{"type":"xss","description":"partial"}]`, ExitCode: -1, TimedOut: true},
		errors.NewTimeoutError(cmd.Name, cmd.Timeout)
}
