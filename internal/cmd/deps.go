package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/battle"
	"github.com/Iron-Ham/twinbattle/internal/config"
	"github.com/Iron-Ham/twinbattle/internal/event"
	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/memory"
	"github.com/Iron-Ham/twinbattle/internal/observability"
	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/research"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/Iron-Ham/twinbattle/internal/tool"
	"github.com/Iron-Ham/twinbattle/internal/twin"
	"go.opentelemetry.io/otel/trace"
)

// env is what every command that touches battle data needs.
type env struct {
	cfg     *config.Config
	dataDir string
	store   *state.Store
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dataDir := cfg.Paths.ResolveDataDir()
	store, err := state.NewStore(dataDir)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, dataDir: dataDir, store: store}, nil
}

// runtime is the full collaborator set for driving a battle.
type runtime struct {
	*env
	logger   *logging.Logger
	memory   *memory.Store
	tracer   trace.Tracer
	shutdown observability.Shutdown
	bus      *event.Bus
	closed   sync.Once
}

// openRuntime opens memory, tracing and a logger writing to the battle's
// debug.log.
func openRuntime(ctx context.Context, e *env, battleID string) (*runtime, error) {
	logger, err := logging.NewLoggerWithRotation(state.BattleDir(e.dataDir, battleID), e.cfg.Logging.Level,
		logging.RotationConfig{MaxSizeMB: e.cfg.Logging.MaxSizeMB, MaxBackups: e.cfg.Logging.MaxBackups})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mem, err := memory.Open(state.MemoryPath(e.dataDir))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	tracer, shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    e.cfg.Tracing.Endpoint,
		Insecure:    e.cfg.Tracing.Insecure,
		ServiceName: e.cfg.Tracing.ServiceName,
	})
	if err != nil {
		// Tracing is optional; the no-op tracer is returned alongside the error.
		logger.Warn("tracing disabled", "error", err)
	}

	return &runtime{
		env:      e,
		logger:   logger,
		memory:   mem,
		tracer:   tracer,
		shutdown: shutdown,
		bus:      event.NewBus(logger),
	}, nil
}

func (r *runtime) Close() {
	r.closed.Do(r.close)
}

func (r *runtime) close() {
	if err := r.shutdown(context.Background()); err != nil {
		r.logger.Warn("failed to flush traces", "error", err)
	}
	_ = r.memory.Close()
	_ = r.logger.Close()
}

func (r *runtime) orchestrator() (*battle.Orchestrator, error) {
	cfg := r.cfg
	researcher, err := newResearcher(cfg.Research)
	if err != nil {
		return nil, err
	}
	return battle.New(battle.Options{
		Store:      r.store,
		Memory:     r.memory,
		NewBackend: backendFactory(cfg, r.dataDir, r.logger),
		Tools: tool.NewSubprocess(tool.Options{
			AuditCommand:  cfg.Tools.Audit,
			PatchCommand:  cfg.Tools.Patch,
			Timeout:       cfg.Tools.ToolTimeout(),
			EvidenceChars: cfg.Tools.EvidenceChars,
			Logger:        r.logger,
		}),
		Researcher:          researcher,
		Reporter:            report.NewWriter(r.dataDir, r.memory),
		Bus:                 r.bus,
		Logger:              r.logger,
		Tracer:              r.tracer,
		ResearchBudget:      cfg.Research.BudgetPerRound,
		RecallLimit:         cfg.Memory.RecallLimit,
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		ResearchConcurrency: cfg.Research.Concurrency,
	})
}

// backendFactory builds twin backends from the battle's recorded options,
// falling back to configuration for anything the battle did not set.
func backendFactory(cfg *config.Config, dataDir string, logger *logging.Logger) battle.BackendFactory {
	return func(st *state.BattleState) (twin.Backend, error) {
		mode, err := twin.ParseMode(st.Mode)
		if err != nil {
			return nil, err
		}
		return twin.NewBackend(mode, twin.Options{
			BattleID: st.ID,
			Target:   st.TargetPath,
			Root:     state.TwinsDir(dataDir, st.ID),
			Logger:   logger,
			Docker: twin.DockerOptions{
				Image:          firstNonEmpty(st.DockerImage, cfg.Docker.Image),
				BuildTimeout:   seconds(cfg.Docker.BuildTimeoutSeconds),
				CommandTimeout: seconds(cfg.Docker.CommandTimeoutSeconds),
			},
			QEMU: twin.QEMUOptions{
				Image:           cfg.QEMU.Image,
				Machine:         firstNonEmpty(st.QEMUMachine, cfg.QEMU.Machine),
				Firmware:        firstNonEmpty(st.Firmware, cfg.QEMU.Firmware, st.TargetPath),
				QMPPortBase:     cfg.QEMU.QMPPortBase,
				GDBPortBase:     cfg.QEMU.GDBPortBase,
				BootWait:        cfg.QEMU.BootWait(),
				ConnectTimeout:  cfg.QEMU.ConnectTimeout(),
				CommandTimeout:  cfg.QEMU.CommandTimeout(),
				RestoreTarget:   cfg.QEMU.RestoreTarget(),
				PeripheralStubs: cfg.QEMU.PeripheralStubs,
				MMIOLog:         cfg.QEMU.MMIOLog,
			},
		})
	}
}

// newResearcher returns a nil Researcher when research is disabled.
func newResearcher(cfg config.ResearchConfig) (research.Researcher, error) {
	timeout := seconds(cfg.TimeoutSeconds)
	switch cfg.Provider {
	case "tool":
		return research.NewTool(cfg.Command, timeout, nil), nil
	case "anthropic":
		r, err := research.NewAnthropic(research.AnthropicOptions{Model: cfg.Model, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, nil
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. The round loop observes it
// between rounds and pauses the battle.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
