package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/twinbattle/internal/battle"
	"github.com/Iron-Ham/twinbattle/internal/event"
	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/Iron-Ham/twinbattle/internal/twin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var battleCmd = &cobra.Command{
	Use:   "battle <target>",
	Short: "Start a new battle against a target",
	Long: `Start a new battle. The target is a source directory (git_worktree,
copy, docker) or a firmware ELF (qemu). Each team gets its own twin of the
target, restored to a clean baseline at the start of every round.

Ctrl+C pauses the battle at the next round boundary; continue it later with
'twinbattle resume <id>'.`,
	Args: cobra.ExactArgs(1),
	RunE: runBattle,
}

var (
	battleRounds             int
	battleOvernight          bool
	battleCheckpointInterval int
	battleMode               string
	battleDockerImage        string
	battleQEMUMachine        string
	battleFirmware           string
)

func init() {
	rootCmd.AddCommand(battleCmd)

	battleCmd.Flags().IntVarP(&battleRounds, "rounds", "n", 0, "number of rounds (default from config)")
	battleCmd.Flags().BoolVar(&battleOvernight, "overnight", false, "use the overnight preset (many rounds, sparse checkpoints)")
	battleCmd.Flags().IntVar(&battleCheckpointInterval, "checkpoint-interval", 0, "save state every N rounds (default from config)")
	battleCmd.Flags().StringVarP(&battleMode, "mode", "m", "", "twin mode: git_worktree, copy, docker or qemu (default from config)")
	battleCmd.Flags().StringVar(&battleDockerImage, "docker-image", "", "image for docker twins instead of building the target's Dockerfile")
	battleCmd.Flags().StringVar(&battleQEMUMachine, "qemu-machine", "", "QEMU machine; detected from the firmware when empty")
	battleCmd.Flags().StringVar(&battleFirmware, "firmware", "", "firmware ELF for qemu twins (defaults to the target)")
}

func runBattle(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	params := battle.StartParams{
		ID:                 uuid.NewString(),
		TargetPath:         args[0],
		Mode:               twin.Mode(e.cfg.Battle.Mode),
		Rounds:             e.cfg.Battle.Rounds,
		CheckpointInterval: e.cfg.Battle.CheckpointInterval,
		DockerImage:        battleDockerImage,
		QEMUMachine:        battleQEMUMachine,
		Firmware:           battleFirmware,
	}
	if battleOvernight {
		params.ApplyPreset(e.cfg.Presets.Overnight)
	}
	if battleRounds > 0 {
		params.Rounds = battleRounds
	}
	if battleCheckpointInterval > 0 {
		params.CheckpointInterval = battleCheckpointInterval
	}
	if battleMode != "" {
		params.Mode = twin.Mode(battleMode)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, e, params.ID)
	if err != nil {
		return err
	}
	defer rt.Close()

	orch, err := rt.orchestrator()
	if err != nil {
		return err
	}
	follow(rt.bus, cmd.OutOrStdout())

	st, err := orch.Start(ctx, params)
	if err != nil {
		if st == nil {
			// Nothing was persisted; drop the log directory opened for it
			rt.Close()
			_ = os.RemoveAll(state.BattleDir(e.dataDir, params.ID))
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Battle %s paused during setup; fix the cause and run 'twinbattle resume %s'\n", st.ID, st.ID)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Battle %s started (%s, %d rounds)\n", st.ID, st.Mode, st.MaxRounds)

	return finish(ctx, cmd.OutOrStdout(), orch, 0)
}

// finish runs the round loop and prints where the battle ended up.
func finish(ctx context.Context, out io.Writer, orch *battle.Orchestrator, interval int) error {
	runErr := orch.Run(ctx, interval)

	st := orch.State()
	if st == nil {
		return runErr
	}
	fmt.Fprintln(out, report.Summary(st))
	switch st.Status {
	case state.StatusCompleted:
		if path := orch.ReportPath(); path != "" {
			fmt.Fprintf(out, "Report: %s\n", path)
		}
	case state.StatusPaused:
		fmt.Fprintf(out, "Resume with: twinbattle resume %s\n", st.ID)
	}
	return runErr
}

// follow prints one line per round and checkpoint.
func follow(bus *event.Bus, out io.Writer) {
	bus.Subscribe(event.TypeRoundCompleted, func(e event.Event) {
		rc, ok := e.(event.RoundCompletedEvent)
		if !ok {
			return
		}
		fmt.Fprintf(out, "%s round %d: %d findings, %d/%d patches verified  %s +%d  %s +%d\n",
			report.Muted.Render("›"), rc.Round, rc.Findings, rc.VerifiedPatches, rc.Patches,
			report.Red.Render(fmt.Sprintf("red %d", rc.RedTotalScore)), rc.RedScore,
			report.Blue.Render(fmt.Sprintf("blue %d", rc.BlueTotalScore)), rc.BlueScore)
	})
	bus.Subscribe(event.TypeCheckpointSaved, func(e event.Event) {
		if cp, ok := e.(event.CheckpointSavedEvent); ok {
			fmt.Fprintln(out, report.Muted.Render(fmt.Sprintf("  checkpoint saved at round %d", cp.Round)))
		}
	})
	bus.Subscribe(event.TypeBattlePaused, func(e event.Event) {
		if p, ok := e.(event.BattlePausedEvent); ok {
			fmt.Fprintf(out, "Battle paused at round %d (%s)\n", p.CurrentRound, p.Reason)
		}
	})
}
