package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/twinbattle/internal/battle"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <battle-id>",
	Short: "Pause a running battle",
	Long: `Mark a battle paused. A battle running in another terminal finishes its
current round and stops; progress since the last checkpoint is saved.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	st, err := battle.StopBattle(context.Background(), e.store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Battle %s paused at round %d of %d\n", st.ID, st.CurrentRound, st.MaxRounds)
	return nil
}
