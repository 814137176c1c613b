// Package cmd implements the twinbattle command line.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/twinbattle/internal/config"
	"github.com/Iron-Ham/twinbattle/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "twinbattle",
	Short: "Red vs blue battles over isolated digital twins",
	Long: `twinbattle runs a round-based exercise in which an autonomous attacker
and an autonomous defender each work on their own copy of a target: a
source tree, a containerized application or microcontroller firmware.
Battles checkpoint their progress and can be stopped and resumed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to a process exit code: 0 on success, 1 for
// user-facing failures (missing target or battle, invalid mode or flags),
// 2 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsSetupError(err),
		errors.Is(err, errors.ErrBattleNotFound),
		errors.Is(err, errors.ErrBattleCompleted),
		errors.Is(err, errors.ErrInvalidInput):
		return 1
	default:
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			return 1
		}
		return 2
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/twinbattle/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().String("data-dir", "", "directory for battle state, twins, memory and reports (default ~/.twinbattle)")
	_ = viper.BindPFlag("paths.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	// Defaults first so they apply without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TWINBATTLE")
	// TWINBATTLE_BATTLE_ROUNDS for battle.rounds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine
	_ = viper.ReadInConfig()
}
