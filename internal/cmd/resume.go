package cmd

import (
	"fmt"

	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <battle-id>",
	Short: "Resume a paused battle",
	Long: `Resume a paused or interrupted battle from the round after its last
checkpoint. Both twins are rebuilt from the target. Resuming a completed
battle does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var resumeCheckpointInterval int

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().IntVar(&resumeCheckpointInterval, "checkpoint-interval", 0, "override the battle's checkpoint interval")
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]
	e, err := loadEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Reject unknown IDs before the logger creates a directory for them
	if _, err := e.store.Load(ctx, id); err != nil {
		return err
	}

	rt, err := openRuntime(ctx, e, id)
	if err != nil {
		return err
	}
	defer rt.Close()

	orch, err := rt.orchestrator()
	if err != nil {
		return err
	}
	follow(rt.bus, cmd.OutOrStdout())

	st, err := orch.Resume(ctx, id)
	if err != nil {
		return err
	}
	if st.Status == state.StatusCompleted {
		fmt.Fprintf(cmd.OutOrStdout(), "Battle %s already completed\n", id)
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary(st))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Battle %s resumed at round %d of %d\n", id, st.NextRound(), st.MaxRounds)

	return finish(ctx, cmd.OutOrStdout(), orch, resumeCheckpointInterval)
}
