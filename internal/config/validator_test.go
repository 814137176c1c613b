package config

import (
	"strings"
	"testing"
)

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "battle.rounds",
		Value:   0,
		Message: "must be at least 1",
	}

	expected := "battle.rounds: must be at least 1 (got: 0)"
	if got := err.Error(); got != expected {
		t.Errorf("ValidationError.Error() = %q, want %q", got, expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var errs ValidationErrors
		if got := errs.Error(); got != "" {
			t.Errorf("empty ValidationErrors.Error() = %q, want empty string", got)
		}
	})

	t.Run("single", func(t *testing.T) {
		errs := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
		if got := errs.Error(); got != "a: bad (got: 1)" {
			t.Errorf("single ValidationErrors.Error() = %q", got)
		}
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "a", Value: 1, Message: "bad"},
			{Field: "b", Value: 2, Message: "worse"},
		}
		got := errs.Error()
		if !strings.HasPrefix(got, "2 validation errors:") {
			t.Errorf("multiple ValidationErrors.Error() = %q, want count prefix", got)
		}
		if !strings.Contains(got, "1. a: bad") || !strings.Contains(got, "2. b: worse") {
			t.Errorf("multiple ValidationErrors.Error() = %q, want numbered entries", got)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate_Battle(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"zero rounds", func(c *Config) { c.Battle.Rounds = 0 }, "battle.rounds"},
		{"negative checkpoint interval", func(c *Config) { c.Battle.CheckpointInterval = -1 }, "battle.checkpoint_interval"},
		{"unknown mode", func(c *Config) { c.Battle.Mode = "vm" }, "battle.mode"},
		{"overnight rounds", func(c *Config) { c.Presets.Overnight.Rounds = 0 }, "presets.overnight.rounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if !hasFieldError(cfg.Validate(), tt.field) {
				t.Errorf("expected validation error for %s", tt.field)
			}
		})
	}

	t.Run("all modes valid", func(t *testing.T) {
		for _, mode := range ValidModes() {
			cfg := Default()
			cfg.Battle.Mode = mode
			if hasFieldError(cfg.Validate(), "battle.mode") {
				t.Errorf("mode %q should be valid", mode)
			}
		}
	})
}

func TestConfig_Validate_QEMU(t *testing.T) {
	t.Run("known machines", func(t *testing.T) {
		for _, m := range append(ValidMachines(), "") {
			cfg := Default()
			cfg.QEMU.Machine = m
			if hasFieldError(cfg.Validate(), "qemu.machine") {
				t.Errorf("machine %q should be valid", m)
			}
		}
	})

	t.Run("unknown machine", func(t *testing.T) {
		cfg := Default()
		cfg.QEMU.Machine = "sparc"
		if !hasFieldError(cfg.Validate(), "qemu.machine") {
			t.Error("expected error for unknown machine")
		}
	})

	t.Run("port out of range", func(t *testing.T) {
		cfg := Default()
		cfg.QEMU.GDBPortBase = 65535
		if !hasFieldError(cfg.Validate(), "qemu.gdb_port_base") {
			t.Error("expected error for gdb port 65535, blue team would overflow")
		}
	})

	t.Run("overlapping ports", func(t *testing.T) {
		cfg := Default()
		cfg.QEMU.GDBPortBase = cfg.QEMU.QMPPortBase + 1
		if !hasFieldError(cfg.Validate(), "qemu.qmp_port_base") {
			t.Error("expected overlap error")
		}
	})

	t.Run("negative boot wait", func(t *testing.T) {
		cfg := Default()
		cfg.QEMU.BootWaitSeconds = -1
		if !hasFieldError(cfg.Validate(), "qemu.boot_wait_seconds") {
			t.Error("expected boot wait error")
		}
	})
}

func TestConfig_Validate_Tools(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
		want   bool
	}{
		{"empty audit", func(c *Config) { c.Tools.Audit = " " }, "tools.audit", true},
		{"empty patch", func(c *Config) { c.Tools.Patch = "" }, "tools.patch", true},
		{"zero timeout", func(c *Config) { c.Tools.TimeoutSeconds = 0 }, "tools.timeout_seconds", true},
		{"evidence too small", func(c *Config) { c.Tools.EvidenceChars = 100 }, "tools.evidence_chars", true},
		{"evidence too large", func(c *Config) { c.Tools.EvidenceChars = 5000 }, "tools.evidence_chars", true},
		{"evidence lower bound", func(c *Config) { c.Tools.EvidenceChars = 200 }, "tools.evidence_chars", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.want {
				t.Errorf("error for %s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate_Research(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		cfg := Default()
		cfg.Research.Provider = "search-engine"
		if !hasFieldError(cfg.Validate(), "research.provider") {
			t.Error("expected provider error")
		}
	})

	t.Run("tool provider requires command", func(t *testing.T) {
		cfg := Default()
		cfg.Research.Provider = "tool"
		if !hasFieldError(cfg.Validate(), "research.command") {
			t.Error("expected command error")
		}
		cfg.Research.Command = "research-tool"
		if hasFieldError(cfg.Validate(), "research.command") {
			t.Error("command set, should be valid")
		}
	})

	t.Run("anthropic provider requires model", func(t *testing.T) {
		cfg := Default()
		cfg.Research.Provider = "anthropic"
		if hasFieldError(cfg.Validate(), "research.model") {
			t.Error("default model should be valid")
		}
		cfg.Research.Model = " "
		if !hasFieldError(cfg.Validate(), "research.model") {
			t.Error("expected model error")
		}
	})

	t.Run("zero budget is allowed", func(t *testing.T) {
		cfg := Default()
		cfg.Research.BudgetPerRound = 0
		if hasFieldError(cfg.Validate(), "research.budget_per_round") {
			t.Error("zero budget should be valid")
		}
	})
}

func TestConfig_Validate_Memory(t *testing.T) {
	for _, threshold := range []float64{-0.1, 1.5} {
		cfg := Default()
		cfg.Memory.SimilarityThreshold = threshold
		if !hasFieldError(cfg.Validate(), "memory.similarity_threshold") {
			t.Errorf("expected error for threshold %v", threshold)
		}
	}
	cfg := Default()
	cfg.Memory.RecallLimit = 0
	if !hasFieldError(cfg.Validate(), "memory.recall_limit") {
		t.Error("expected error for zero recall limit")
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "", "INFO"} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "verbose"
		if !hasFieldError(cfg.Validate(), "logging.level") {
			t.Error("expected error for invalid log level")
		}
	})

	t.Run("negative rotation", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = -1
		cfg.Logging.MaxBackups = -1
		errs := cfg.Validate()
		if !hasFieldError(errs, "logging.max_size_mb") || !hasFieldError(errs, "logging.max_backups") {
			t.Errorf("expected rotation errors, got %v", errs)
		}
	})
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Battle.Rounds = 0
	cfg.Tools.Audit = ""
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}
