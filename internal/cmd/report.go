package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/twinbattle/internal/memory"
	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <battle-id>",
	Short: "Write the Markdown report for a battle",
	Long: `Render a battle's report from its state and both teams' episodes.
Works for paused battles too; the report covers the rounds played so far.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var reportStdout bool

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().BoolVar(&reportStdout, "stdout", false, "print the report instead of writing it")
}

func runReport(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	ctx := context.Background()

	st, err := e.store.Load(ctx, args[0])
	if err != nil {
		return err
	}

	mem, err := memory.Open(state.MemoryPath(e.dataDir))
	if err != nil {
		return err
	}
	defer mem.Close()

	w := report.NewWriter(e.dataDir, mem)
	if reportStdout {
		in, err := w.Collect(ctx, report.Input{State: st})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Markdown(in))
		return nil
	}

	path, err := w.Write(ctx, report.Input{State: st})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", path)
	return nil
}
