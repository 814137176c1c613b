package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete twinbattle configuration
type Config struct {
	Battle   BattleConfig   `mapstructure:"battle"`
	Presets  PresetsConfig  `mapstructure:"presets"`
	Docker   DockerConfig   `mapstructure:"docker"`
	QEMU     QEMUConfig     `mapstructure:"qemu"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Research ResearchConfig `mapstructure:"research"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// BattleConfig controls the round loop
type BattleConfig struct {
	// Rounds is the default round budget (default: 10)
	Rounds int `mapstructure:"rounds"`
	// CheckpointInterval persists state every N rounds (default: 1)
	CheckpointInterval int `mapstructure:"checkpoint_interval"`
	// Mode is the default twin mode: "git_worktree", "docker", "qemu", "copy"
	Mode string `mapstructure:"mode"`
}

// PresetsConfig holds named round/checkpoint presets
type PresetsConfig struct {
	Overnight PresetConfig `mapstructure:"overnight"`
}

// PresetConfig scales the round budget and checkpoint interval together
type PresetConfig struct {
	Rounds             int `mapstructure:"rounds"`
	CheckpointInterval int `mapstructure:"checkpoint_interval"`
}

// DockerConfig controls container twins
type DockerConfig struct {
	// Image is used as-is when set; otherwise a Dockerfile in the target is built
	Image string `mapstructure:"image"`
	// BuildTimeoutSeconds bounds `docker build` (default: 600)
	BuildTimeoutSeconds int `mapstructure:"build_timeout_seconds"`
	// CommandTimeoutSeconds bounds every other docker invocation (default: 120)
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds"`
}

// QEMUConfig controls emulator twins
type QEMUConfig struct {
	// Image is the container image that carries qemu-system-* and qemu-img
	Image string `mapstructure:"image"`
	// Machine overrides architecture detection: arm, aarch64, x86_64, i386, riscv64, mips
	Machine string `mapstructure:"machine"`
	// Firmware is the firmware image path; defaults to the battle target
	Firmware string `mapstructure:"firmware"`
	// BootWaitSeconds is the grace period after launch before snapshotting (default: 5)
	BootWaitSeconds int `mapstructure:"boot_wait_seconds"`
	// QMPPortBase is the host QMP port for red; blue uses QMPPortBase+1 (default: 4444)
	QMPPortBase int `mapstructure:"qmp_port_base"`
	// GDBPortBase is the host GDB stub port for red; blue uses GDBPortBase+1 (default: 1234)
	GDBPortBase int `mapstructure:"gdb_port_base"`
	// PeripheralStubs adds unimplemented-device stubs for common MCU peripherals
	PeripheralStubs bool `mapstructure:"peripheral_stubs"`
	// MMIOLog enables guest_errors/unimp logging to a file in the twin dir
	MMIOLog bool `mapstructure:"mmio_log"`
	// ConnectTimeoutSeconds bounds the QMP connect and handshake (default: 10)
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	// CommandTimeoutSeconds bounds each QMP command (default: 10)
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds"`
	// RestoreTargetMs is the latency above which restores are flagged (default: 500)
	RestoreTargetMs int `mapstructure:"restore_target_ms"`
}

// ToolsConfig names the external audit and patch collaborators
type ToolsConfig struct {
	// Audit is the attacker tool binary (default: "audit-tool")
	Audit string `mapstructure:"audit"`
	// Patch is the defender tool binary (default: "patch-tool")
	Patch string `mapstructure:"patch"`
	// TimeoutSeconds bounds each tool run (default: 300)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// EvidenceChars truncates stdout kept as evidence (default: 1000)
	EvidenceChars int `mapstructure:"evidence_chars"`
}

// ResearchConfig controls the research collaborator
type ResearchConfig struct {
	// Provider selects the researcher: "none", "tool" or "anthropic" (default: "none")
	Provider string `mapstructure:"provider"`
	// Command is the research tool binary when provider is "tool"
	Command string `mapstructure:"command"`
	// Model is the Anthropic model when provider is "anthropic"
	Model string `mapstructure:"model"`
	// BudgetPerRound is the per-team research quota reset every round (default: 3)
	BudgetPerRound int `mapstructure:"budget_per_round"`
	// Concurrency bounds parallel lookups within the research phase (default: 2)
	Concurrency int `mapstructure:"concurrency"`
	// TimeoutSeconds bounds a single lookup (default: 60)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// MemoryConfig controls team memory recall
type MemoryConfig struct {
	// RecallLimit is k, the maximum number of items recall returns (default: 5)
	RecallLimit int `mapstructure:"recall_limit"`
	// SimilarityThreshold is the minimum similarity for a recalled item (default: 0.3)
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	// Endpoint is an OTLP/HTTP collector host:port; empty disables export
	Endpoint string `mapstructure:"endpoint"`
	// Insecure disables TLS to the collector (default: true)
	Insecure bool `mapstructure:"insecure"`
	// ServiceName is reported as service.name (default: "twinbattle")
	ServiceName string `mapstructure:"service_name"`
}

// PathsConfig controls where twinbattle stores data
type PathsConfig struct {
	// DataDir holds battle state, twins, memory and reports.
	// If empty, defaults to ~/.twinbattle. Supports ~ expansion.
	DataDir string `mapstructure:"data_dir"`
}

// ResolveDataDir returns the absolute data directory.
func (p *PathsConfig) ResolveDataDir() string {
	path := p.DataDir
	home, homeErr := os.UserHomeDir()

	switch {
	case path == "":
		if homeErr != nil {
			return ".twinbattle"
		}
		return filepath.Join(home, ".twinbattle")
	case path == "~":
		if homeErr == nil {
			path = home
		}
	case strings.HasPrefix(path, "~/"):
		if homeErr == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Battle: BattleConfig{
			Rounds:             10,
			CheckpointInterval: 1,
			Mode:               "git_worktree",
		},
		Presets: PresetsConfig{
			Overnight: PresetConfig{
				Rounds:             100,
				CheckpointInterval: 10,
			},
		},
		Docker: DockerConfig{
			Image:                 "",
			BuildTimeoutSeconds:   600,
			CommandTimeoutSeconds: 120,
		},
		QEMU: QEMUConfig{
			Image:                 "twinbattle/qemu:latest",
			Machine:               "", // Detected from the firmware header
			BootWaitSeconds:       5,
			QMPPortBase:           4444,
			GDBPortBase:           1234,
			ConnectTimeoutSeconds: 10,
			CommandTimeoutSeconds: 10,
			RestoreTargetMs:       500,
		},
		Tools: ToolsConfig{
			Audit:          "audit-tool",
			Patch:          "patch-tool",
			TimeoutSeconds: 300,
			EvidenceChars:  1000,
		},
		Research: ResearchConfig{
			Provider:       "none",
			Model:          "claude-3-5-sonnet-20241022",
			BudgetPerRound: 3,
			Concurrency:    2,
			TimeoutSeconds: 60,
		},
		Memory: MemoryConfig{
			RecallLimit:         5,
			SimilarityThreshold: 0.3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Tracing: TracingConfig{
			Endpoint:    "",
			Insecure:    true,
			ServiceName: "twinbattle",
		},
		Paths: PathsConfig{
			DataDir: "",
		},
	}
}

// ToolTimeout returns the tool timeout as a time.Duration
func (c *ToolsConfig) ToolTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectTimeout returns the QMP connect timeout as a time.Duration
func (c *QEMUConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the per-command QMP timeout as a time.Duration
func (c *QEMUConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// BootWait returns the boot grace period as a time.Duration
func (c *QEMUConfig) BootWait() time.Duration {
	return time.Duration(c.BootWaitSeconds) * time.Second
}

// RestoreTarget returns the restore latency target as a time.Duration
func (c *QEMUConfig) RestoreTarget() time.Duration {
	return time.Duration(c.RestoreTargetMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	d := Default()

	viper.SetDefault("battle.rounds", d.Battle.Rounds)
	viper.SetDefault("battle.checkpoint_interval", d.Battle.CheckpointInterval)
	viper.SetDefault("battle.mode", d.Battle.Mode)

	viper.SetDefault("presets.overnight.rounds", d.Presets.Overnight.Rounds)
	viper.SetDefault("presets.overnight.checkpoint_interval", d.Presets.Overnight.CheckpointInterval)

	viper.SetDefault("docker.image", d.Docker.Image)
	viper.SetDefault("docker.build_timeout_seconds", d.Docker.BuildTimeoutSeconds)
	viper.SetDefault("docker.command_timeout_seconds", d.Docker.CommandTimeoutSeconds)

	viper.SetDefault("qemu.image", d.QEMU.Image)
	viper.SetDefault("qemu.machine", d.QEMU.Machine)
	viper.SetDefault("qemu.firmware", d.QEMU.Firmware)
	viper.SetDefault("qemu.boot_wait_seconds", d.QEMU.BootWaitSeconds)
	viper.SetDefault("qemu.qmp_port_base", d.QEMU.QMPPortBase)
	viper.SetDefault("qemu.gdb_port_base", d.QEMU.GDBPortBase)
	viper.SetDefault("qemu.peripheral_stubs", d.QEMU.PeripheralStubs)
	viper.SetDefault("qemu.mmio_log", d.QEMU.MMIOLog)
	viper.SetDefault("qemu.connect_timeout_seconds", d.QEMU.ConnectTimeoutSeconds)
	viper.SetDefault("qemu.command_timeout_seconds", d.QEMU.CommandTimeoutSeconds)
	viper.SetDefault("qemu.restore_target_ms", d.QEMU.RestoreTargetMs)

	viper.SetDefault("tools.audit", d.Tools.Audit)
	viper.SetDefault("tools.patch", d.Tools.Patch)
	viper.SetDefault("tools.timeout_seconds", d.Tools.TimeoutSeconds)
	viper.SetDefault("tools.evidence_chars", d.Tools.EvidenceChars)

	viper.SetDefault("research.provider", d.Research.Provider)
	viper.SetDefault("research.command", d.Research.Command)
	viper.SetDefault("research.model", d.Research.Model)
	viper.SetDefault("research.budget_per_round", d.Research.BudgetPerRound)
	viper.SetDefault("research.concurrency", d.Research.Concurrency)
	viper.SetDefault("research.timeout_seconds", d.Research.TimeoutSeconds)

	viper.SetDefault("memory.recall_limit", d.Memory.RecallLimit)
	viper.SetDefault("memory.similarity_threshold", d.Memory.SimilarityThreshold)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	viper.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	viper.SetDefault("tracing.insecure", d.Tracing.Insecure)
	viper.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	viper.SetDefault("paths.data_dir", d.Paths.DataDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded values fail to unmarshal or validate.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "twinbattle")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".twinbattle"
	}
	return filepath.Join(home, ".config", "twinbattle")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
