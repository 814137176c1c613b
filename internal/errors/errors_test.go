package errors

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.sev.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.sev, got, tt.want)
		}
	}
}

func TestBattleError(t *testing.T) {
	err := NewBattleError("failed to load battle", ErrBattleNotFound).WithBattleID("b-1").WithRound(3)

	msg := err.Error()
	if !strings.Contains(msg, "battle=b-1") || !strings.Contains(msg, "round=3") {
		t.Errorf("Error() = %q, missing context", msg)
	}
	if !Is(err, ErrBattleNotFound) {
		t.Error("BattleError should match wrapped ErrBattleNotFound")
	}
	var be *BattleError
	if !As(fmt.Errorf("outer: %w", err), &be) {
		t.Fatal("As should find BattleError through wrapping")
	}
	if be.BattleID != "b-1" {
		t.Errorf("BattleID = %q, want b-1", be.BattleID)
	}
}

func TestTwinErrorIncludesOutput(t *testing.T) {
	err := NewTwinError("docker build failed", ErrImageBuildFailed).
		WithTeam("red").
		WithMode("docker").
		WithOutput("step 3/7 failed")

	msg := err.Error()
	for _, want := range []string{"team=red", "mode=docker", "output: step 3/7 failed"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestSnapshotErrorAlwaysMatchesSentinel(t *testing.T) {
	tests := []struct {
		name  string
		cause error
	}{
		{"nil cause", nil},
		{"sentinel cause", ErrSnapshotFailed},
		{"other cause", New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSnapshotError("loadvm failed", tt.cause).WithTeam("blue").WithSnapshot("golden")
			if !Is(err, ErrSnapshotFailed) {
				t.Errorf("Is(%v, ErrSnapshotFailed) = false", err)
			}
			if tt.cause != nil && !Is(err, tt.cause) {
				t.Errorf("Is(%v, cause) = false", err)
			}
		})
	}
}

func TestNotFoundErrorMatchesBattleSentinel(t *testing.T) {
	err := NewNotFoundError("battle", "abc")
	if !Is(err, ErrBattleNotFound) {
		t.Error("battle NotFoundError should match ErrBattleNotFound")
	}
	other := NewNotFoundError("snapshot", "golden")
	if Is(other, ErrBattleNotFound) {
		t.Error("snapshot NotFoundError must not match ErrBattleNotFound")
	}
	if got := err.Error(); got != "battle 'abc' not found" {
		t.Errorf("Error() = %q", got)
	}
}

func TestValidationErrorMatchesInvalidInput(t *testing.T) {
	err := NewValidationError("rounds must be positive").WithField("rounds").WithValue(0)
	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if !strings.Contains(err.Error(), "field=rounds") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("qmp connect", 10*time.Second)
	if !Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !strings.Contains(err.Error(), "10s") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsSetupError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"target not found", Wrap(ErrTargetNotFound, "battle"), true},
		{"invalid mode", ErrInvalidMode, true},
		{"image build", NewTwinError("build", ErrImageBuildFailed), true},
		{"dockerfile", ErrDockerfileMissing, true},
		{"firmware", ErrFirmwareMissing, true},
		{"not git", ErrNotGitRepository, true},
		{"snapshot", NewSnapshotError("loadvm", nil), false},
		{"tool", NewToolError("audit", ErrToolFailed), false},
		{"battle not found", ErrBattleNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSetupError(tt.err); got != tt.want {
				t.Errorf("IsSetupError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v", got)
	}
	if got := GetSeverity(New("plain")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v", got)
	}
	if got := GetSeverity(NewToolError("patch", nil)); got != SeverityWarning {
		t.Errorf("GetSeverity(ToolError) = %v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", New("refused"), false},
		{"timeout", NewTimeoutError("qmp loadvm", time.Second), true},
		{"snapshot wrapping timeout", NewSnapshotError("restore failed", Wrap(NewTimeoutError("qmp", time.Second), "loadvm")), true},
		{"snapshot", NewSnapshotError("restore failed", New("no snapshot")), false},
		{"twin", NewTwinError("build", ErrImageBuildFailed), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrapf(ErrTimeout, "round %d", 2)
	if !Is(err, ErrTimeout) {
		t.Error("Wrapf should preserve the chain")
	}
	if err.Error() != "round 2: operation timed out" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
}
