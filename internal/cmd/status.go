package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/term"

	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/Iron-Ham/twinbattle/internal/tui/watch"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [battle-id]",
	Short: "Show battle status",
	Long: `Without an ID, list every battle. With an ID, show that battle's
progress and score. --watch keeps the view open and refreshes it.
--match filters the list by battle ID, e.g. --match '3f2a*'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusWatch    bool
	statusInterval time.Duration
	statusMatch    string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh until quit")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "refresh interval for --watch")
	statusCmd.Flags().StringVar(&statusMatch, "match", "", "only list battles whose ID matches this glob")
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	var match glob.Glob
	if statusMatch != "" {
		if match, err = glob.Compile(statusMatch); err != nil {
			return fmt.Errorf("invalid --match pattern %q: %w", statusMatch, err)
		}
	}

	load := func(ctx context.Context) ([]*state.BattleState, error) {
		if len(args) == 1 {
			st, err := e.store.Load(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return []*state.BattleState{st}, nil
		}
		states, err := e.store.List(ctx)
		if err != nil {
			return nil, err
		}
		return filterStates(states, match), nil
	}

	// The live view needs a terminal; piped output gets one snapshot
	if statusWatch && term.IsTerminal(int(os.Stdout.Fd())) {
		ctx, cancel := signalContext()
		defer cancel()
		return watch.Run(ctx, load, statusInterval)
	}

	states, err := load(context.Background())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary(states[0]))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Table(states))
	return nil
}

// filterStates keeps the battles whose ID matches g. A nil g keeps all.
func filterStates(states []*state.BattleState, g glob.Glob) []*state.BattleState {
	if g == nil {
		return states
	}
	var out []*state.BattleState
	for _, st := range states {
		if g.Match(st.ID) {
			out = append(out, st)
		}
	}
	return out
}
