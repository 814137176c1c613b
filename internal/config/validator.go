package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "battle.rounds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidModes returns the twin modes accepted by battle.mode.
// These must match twin.ParseMode (kept separate to avoid an import cycle).
func ValidModes() []string {
	return []string{"git_worktree", "docker", "qemu", "copy"}
}

// ValidMachines returns the emulator architectures accepted by qemu.machine.
func ValidMachines() []string {
	return []string{"arm", "aarch64", "x86_64", "i386", "riscv64", "mips"}
}

// ValidResearchProviders returns the accepted research.provider values.
func ValidResearchProviders() []string {
	return []string{"none", "tool", "anthropic"}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateBattle()...)
	errs = append(errs, c.validatePresets()...)
	errs = append(errs, c.validateQEMU()...)
	errs = append(errs, c.validateTools()...)
	errs = append(errs, c.validateResearch()...)
	errs = append(errs, c.validateMemory()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func positive(field string, v int) []ValidationError {
	if v < 1 {
		return []ValidationError{{Field: field, Value: v, Message: "must be at least 1"}}
	}
	return nil
}

func (c *Config) validateBattle() []ValidationError {
	var errs []ValidationError
	errs = append(errs, positive("battle.rounds", c.Battle.Rounds)...)
	errs = append(errs, positive("battle.checkpoint_interval", c.Battle.CheckpointInterval)...)
	if !slices.Contains(ValidModes(), c.Battle.Mode) {
		errs = append(errs, ValidationError{
			Field:   "battle.mode",
			Value:   c.Battle.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}
	return errs
}

func (c *Config) validatePresets() []ValidationError {
	var errs []ValidationError
	errs = append(errs, positive("presets.overnight.rounds", c.Presets.Overnight.Rounds)...)
	errs = append(errs, positive("presets.overnight.checkpoint_interval", c.Presets.Overnight.CheckpointInterval)...)
	return errs
}

func (c *Config) validateQEMU() []ValidationError {
	var errs []ValidationError
	if c.QEMU.Machine != "" && !slices.Contains(ValidMachines(), c.QEMU.Machine) {
		errs = append(errs, ValidationError{
			Field:   "qemu.machine",
			Value:   c.QEMU.Machine,
			Message: fmt.Sprintf("must be empty or one of: %s", strings.Join(ValidMachines(), ", ")),
		})
	}
	for field, port := range map[string]int{
		"qemu.qmp_port_base": c.QEMU.QMPPortBase,
		"qemu.gdb_port_base": c.QEMU.GDBPortBase,
	} {
		// Each base is used for two teams, so base+1 must also be a valid port.
		if port < 1024 || port > 65534 {
			errs = append(errs, ValidationError{Field: field, Value: port, Message: "must be between 1024 and 65534"})
		}
	}
	if c.QEMU.QMPPortBase == c.QEMU.GDBPortBase || c.QEMU.QMPPortBase+1 == c.QEMU.GDBPortBase || c.QEMU.GDBPortBase+1 == c.QEMU.QMPPortBase {
		errs = append(errs, ValidationError{Field: "qemu.qmp_port_base", Value: c.QEMU.QMPPortBase, Message: "overlaps gdb_port_base"})
	}
	if c.QEMU.BootWaitSeconds < 0 {
		errs = append(errs, ValidationError{Field: "qemu.boot_wait_seconds", Value: c.QEMU.BootWaitSeconds, Message: "must be non-negative"})
	}
	errs = append(errs, positive("qemu.connect_timeout_seconds", c.QEMU.ConnectTimeoutSeconds)...)
	errs = append(errs, positive("qemu.command_timeout_seconds", c.QEMU.CommandTimeoutSeconds)...)
	errs = append(errs, positive("qemu.restore_target_ms", c.QEMU.RestoreTargetMs)...)
	return errs
}

func (c *Config) validateTools() []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(c.Tools.Audit) == "" {
		errs = append(errs, ValidationError{Field: "tools.audit", Value: c.Tools.Audit, Message: "must not be empty"})
	}
	if strings.TrimSpace(c.Tools.Patch) == "" {
		errs = append(errs, ValidationError{Field: "tools.patch", Value: c.Tools.Patch, Message: "must not be empty"})
	}
	errs = append(errs, positive("tools.timeout_seconds", c.Tools.TimeoutSeconds)...)

	const minEvidence, maxEvidence = 200, 1000
	if c.Tools.EvidenceChars < minEvidence || c.Tools.EvidenceChars > maxEvidence {
		errs = append(errs, ValidationError{
			Field:   "tools.evidence_chars",
			Value:   c.Tools.EvidenceChars,
			Message: fmt.Sprintf("must be between %d and %d", minEvidence, maxEvidence),
		})
	}
	return errs
}

func (c *Config) validateResearch() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidResearchProviders(), c.Research.Provider) {
		errs = append(errs, ValidationError{
			Field:   "research.provider",
			Value:   c.Research.Provider,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidResearchProviders(), ", ")),
		})
	}
	if c.Research.Provider == "tool" && strings.TrimSpace(c.Research.Command) == "" {
		errs = append(errs, ValidationError{Field: "research.command", Value: c.Research.Command, Message: "required when provider is tool"})
	}
	if c.Research.Provider == "anthropic" && strings.TrimSpace(c.Research.Model) == "" {
		errs = append(errs, ValidationError{Field: "research.model", Value: c.Research.Model, Message: "required when provider is anthropic"})
	}
	if c.Research.BudgetPerRound < 0 {
		errs = append(errs, ValidationError{Field: "research.budget_per_round", Value: c.Research.BudgetPerRound, Message: "must be non-negative"})
	}
	errs = append(errs, positive("research.concurrency", c.Research.Concurrency)...)
	errs = append(errs, positive("research.timeout_seconds", c.Research.TimeoutSeconds)...)
	return errs
}

func (c *Config) validateMemory() []ValidationError {
	var errs []ValidationError
	errs = append(errs, positive("memory.recall_limit", c.Memory.RecallLimit)...)
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "memory.similarity_threshold",
			Value:   c.Memory.SimilarityThreshold,
			Message: "must be between 0 and 1",
		})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: "must be non-negative"})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Value: c.Logging.MaxBackups, Message: "must be non-negative"})
	}
	return errs
}
