package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/twinbattle/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify twinbattle configuration",
	Long: `View or modify twinbattle configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  twinbattle config set battle.rounds 25
  twinbattle config set battle.mode docker
  twinbattle config set research.budget_per_round 2

Run 'twinbattle config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/twinbattle/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// settableKeys maps each key accepted by 'config set' to its value kind.
var settableKeys = map[string]string{
	"battle.rounds":                         "int",
	"battle.checkpoint_interval":            "int",
	"battle.mode":                           "string",
	"presets.overnight.rounds":              "int",
	"presets.overnight.checkpoint_interval": "int",
	"docker.image":                          "string",
	"qemu.machine":                          "string",
	"qemu.firmware":                         "string",
	"qemu.peripheral_stubs":                 "bool",
	"qemu.mmio_log":                         "bool",
	"tools.audit":                           "string",
	"tools.patch":                           "string",
	"tools.timeout_seconds":                 "int",
	"research.provider":                     "string",
	"research.command":                      "string",
	"research.model":                        "string",
	"research.budget_per_round":             "int",
	"memory.recall_limit":                   "int",
	"memory.similarity_threshold":           "float",
	"logging.level":                         "string",
	"tracing.endpoint":                      "string",
	"paths.data_dir":                        "string",
}

// SettableKeys returns the keys 'config set' accepts, sorted.
func SettableKeys() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseConfigValue converts value to the kind key expects.
func parseConfigValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(SettableKeys(), ", "))
	}

	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a number", key)
		}
		return f, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	typed, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}

	// Validate the resulting configuration before writing anything
	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typed)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigFile = `# twinbattle configuration

battle:
  # Rounds per battle
  rounds: 10
  # Save state every N rounds
  checkpoint_interval: 1
  # Twin isolation: git_worktree, copy, docker or qemu
  mode: git_worktree

presets:
  # Used by 'twinbattle battle --overnight'
  overnight:
    rounds: 100
    checkpoint_interval: 10

docker:
  # Image for docker twins. Empty builds the target's Dockerfile.
  image: ""

qemu:
  # Empty detects the machine from the firmware ELF header
  machine: ""
  peripheral_stubs: false
  mmio_log: false

tools:
  audit: audit-tool
  patch: patch-tool
  timeout_seconds: 300

research:
  # none, tool or anthropic
  provider: none
  budget_per_round: 3

memory:
  recall_limit: 5
  similarity_threshold: 0.3

logging:
  # debug, info, warn or error
  level: info

tracing:
  # OTLP/HTTP endpoint, e.g. http://localhost:4318. Empty disables tracing.
  endpoint: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'twinbattle config set' to modify values", configFile)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: TWINBATTLE_* (e.g., TWINBATTLE_BATTLE_ROUNDS)")
	return nil
}
