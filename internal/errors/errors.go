// Package errors provides centralized error definitions and error handling utilities
// for twinbattle. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - BattleError: errors raised by the battle orchestrator
//   - TwinError: errors creating, restoring or tearing down a digital twin
//   - SnapshotError: emulator control protocol failures
//   - ToolError: external audit/patch/research tool failures
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Classification
//
// Setup errors (missing target, missing image, invalid mode) are fatal to a
// battle and surface to the command layer. Everything else raised inside a
// round is folded into episode outcomes by the caller. Use [IsSetupError] to
// tell them apart.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Battle-related sentinel errors
var (
	// ErrBattleNotFound indicates that no readable state exists for a battle ID.
	ErrBattleNotFound = New("battle not found")
	// ErrBattleCompleted indicates that a battle has already used its round budget.
	ErrBattleCompleted = New("battle already completed")
	// ErrBattlePaused indicates that the battle was paused by a stop command.
	ErrBattlePaused = New("battle paused")
	// ErrStateCorrupted indicates that persisted battle state could not be decoded.
	ErrStateCorrupted = New("battle state corrupted")
)

// Setup sentinel errors. Any error wrapping one of these is fatal to a battle.
var (
	// ErrTargetNotFound indicates that the battle target path does not exist.
	ErrTargetNotFound = New("target not found")
	// ErrInvalidMode indicates an unknown twin mode.
	ErrInvalidMode = New("invalid twin mode")
	// ErrImageBuildFailed indicates that a container image could not be built.
	ErrImageBuildFailed = New("image build failed")
	// ErrDockerfileMissing indicates that no image was given and no Dockerfile was found.
	ErrDockerfileMissing = New("no docker image or Dockerfile")
	// ErrFirmwareMissing indicates that an emulator twin was requested without firmware.
	ErrFirmwareMissing = New("firmware image not found")
	// ErrNotGitRepository indicates that a worktree twin was requested for a non-git target.
	ErrNotGitRepository = New("not a git repository")
)

// Round-local sentinel errors
var (
	// ErrTwinNotOwned indicates a team touched a twin it does not hold a lease on.
	ErrTwinNotOwned = New("twin not owned by team")
	// ErrSnapshotFailed indicates a save or load of emulator state failed.
	ErrSnapshotFailed = New("snapshot operation failed")
	// ErrToolFailed indicates that an external tool exited non-zero.
	ErrToolFailed = New("tool execution failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

var setupSentinels = []error{
	ErrTargetNotFound,
	ErrInvalidMode,
	ErrImageBuildFailed,
	ErrDockerfileMissing,
	ErrFirmwareMissing,
	ErrNotGitRepository,
}

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// TwinbattleError is the base interface for all twinbattle errors.
type TwinbattleError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable || IsRetryable(e.cause) }

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// BattleError represents errors raised by the orchestrator.
//
// Example:
//
//	err := errors.NewBattleError("failed to load battle", errors.ErrBattleNotFound)
//	err = err.WithBattleID("b-123").WithRound(4)
type BattleError struct {
	baseError
	BattleID string
	Round    int
}

// NewBattleError creates a new BattleError.
func NewBattleError(message string, cause error) *BattleError {
	return &BattleError{baseError: baseError{message: message, cause: cause, severity: SeverityError}}
}

// WithBattleID adds a battle ID to the error context.
func (e *BattleError) WithBattleID(id string) *BattleError {
	e.BattleID = id
	return e
}

// WithRound adds the round number to the error context.
func (e *BattleError) WithRound(round int) *BattleError {
	e.Round = round
	return e
}

// Error returns the formatted error message.
func (e *BattleError) Error() string {
	var parts []string
	if e.BattleID != "" {
		parts = append(parts, fmt.Sprintf("battle=%s", e.BattleID))
	}
	if e.Round > 0 {
		parts = append(parts, fmt.Sprintf("round=%d", e.Round))
	}
	return e.format("battle error", parts)
}

// Is checks if this error matches the target.
func (e *BattleError) Is(target error) bool {
	if _, ok := target.(*BattleError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TwinError represents errors from a digital twin backend.
//
// Example:
//
//	err := errors.NewTwinError("docker build failed", errors.ErrImageBuildFailed)
//	err = err.WithTeam("red").WithMode("docker").WithOutput(out)
type TwinError struct {
	baseError
	Team   string
	Mode   string
	Path   string
	Output string // Captured command output
}

// NewTwinError creates a new TwinError.
func NewTwinError(message string, cause error) *TwinError {
	return &TwinError{baseError: baseError{message: message, cause: cause, severity: SeverityError}}
}

// WithTeam adds the owning team to the error context.
func (e *TwinError) WithTeam(team string) *TwinError {
	e.Team = team
	return e
}

// WithMode adds the twin mode to the error context.
func (e *TwinError) WithMode(mode string) *TwinError {
	e.Mode = mode
	return e
}

// WithPath adds the twin directory to the error context.
func (e *TwinError) WithPath(path string) *TwinError {
	e.Path = path
	return e
}

// WithOutput adds command output to the error context.
func (e *TwinError) WithOutput(output string) *TwinError {
	e.Output = output
	return e
}

// Error returns the formatted error message.
func (e *TwinError) Error() string {
	var parts []string
	if e.Team != "" {
		parts = append(parts, fmt.Sprintf("team=%s", e.Team))
	}
	if e.Mode != "" {
		parts = append(parts, fmt.Sprintf("mode=%s", e.Mode))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	msg := e.format("twin error", parts)
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *TwinError) Is(target error) bool {
	if _, ok := target.(*TwinError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SnapshotError represents emulator snapshot failures.
type SnapshotError struct {
	baseError
	Team     string
	Snapshot string
	Command  string
}

// NewSnapshotError creates a new SnapshotError. The cause defaults to
// ErrSnapshotFailed so callers can match on the sentinel.
func NewSnapshotError(message string, cause error) *SnapshotError {
	if cause == nil {
		cause = ErrSnapshotFailed
	} else if !errors.Is(cause, ErrSnapshotFailed) {
		cause = fmt.Errorf("%w: %w", ErrSnapshotFailed, cause)
	}
	return &SnapshotError{baseError: baseError{message: message, cause: cause, severity: SeverityWarning}}
}

// WithTeam adds the owning team to the error context.
func (e *SnapshotError) WithTeam(team string) *SnapshotError {
	e.Team = team
	return e
}

// WithSnapshot adds the snapshot name to the error context.
func (e *SnapshotError) WithSnapshot(name string) *SnapshotError {
	e.Snapshot = name
	return e
}

// WithCommand adds the control-protocol command to the error context.
func (e *SnapshotError) WithCommand(cmd string) *SnapshotError {
	e.Command = cmd
	return e
}

// Error returns the formatted error message.
func (e *SnapshotError) Error() string {
	var parts []string
	if e.Team != "" {
		parts = append(parts, fmt.Sprintf("team=%s", e.Team))
	}
	if e.Snapshot != "" {
		parts = append(parts, fmt.Sprintf("snapshot=%s", e.Snapshot))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%s", e.Command))
	}
	return e.format("snapshot error", parts)
}

// Is checks if this error matches the target.
func (e *SnapshotError) Is(target error) bool {
	if _, ok := target.(*SnapshotError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ToolError represents a failed external tool invocation.
type ToolError struct {
	baseError
	Tool     string
	ExitCode int
	Stderr   string
}

// NewToolError creates a new ToolError.
func NewToolError(tool string, cause error) *ToolError {
	return &ToolError{
		baseError: baseError{message: "tool invocation failed", cause: cause, severity: SeverityWarning},
		Tool:      tool,
	}
}

// WithExitCode records the tool's exit status.
func (e *ToolError) WithExitCode(code int) *ToolError {
	e.ExitCode = code
	return e
}

// WithStderr records captured stderr.
func (e *ToolError) WithStderr(stderr string) *ToolError {
	e.Stderr = stderr
	return e
}

// Error returns the formatted error message.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("tool=%s", e.Tool)}
	if e.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return e.format("tool error", parts)
}

// Is checks if this error matches the target.
func (e *ToolError) Is(target error) bool {
	if _, ok := target.(*ToolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Is checks if this error matches the target. A battle NotFoundError also
// matches ErrBattleNotFound.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if e.ResourceType == "battle" && target == ErrBattleNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{message: message, severity: SeverityWarning}}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{message: operation, severity: SeverityWarning, retryable: true},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsSetupError reports whether err is fatal to a battle: a missing target,
// image, firmware or Dockerfile, a non-git worktree target, or an invalid
// mode. Setup errors surface to the command layer and cause a non-zero exit.
func IsSetupError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range setupSentinels {
		if Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var tbErr TwinbattleError
	if As(err, &tbErr) {
		return tbErr.IsRetryable()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement TwinbattleError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var tbErr TwinbattleError
	if As(err, &tbErr) {
		return tbErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
