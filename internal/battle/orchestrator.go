// Package battle runs the round loop: it prepares both twins, drives the
// Attacker and then the Defender each round, scores the round, checkpoints
// state and writes the final report.
//
// An Orchestrator drives one battle per process. Stop requests from other
// processes arrive through the persisted state document, which the loop
// reloads between rounds and watches with fsnotify.
package battle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/twinbattle/internal/agent"
	"github.com/Iron-Ham/twinbattle/internal/config"
	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/event"
	"github.com/Iron-Ham/twinbattle/internal/firmware"
	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/memory"
	"github.com/Iron-Ham/twinbattle/internal/observability"
	"github.com/Iron-Ham/twinbattle/internal/report"
	"github.com/Iron-Ham/twinbattle/internal/research"
	"github.com/Iron-Ham/twinbattle/internal/state"
	"github.com/Iron-Ham/twinbattle/internal/tool"
	"github.com/Iron-Ham/twinbattle/internal/twin"
)

// DefaultLatencyRuns is how many restores are measured for the report of an
// emulator battle.
const DefaultLatencyRuns = 10

// Pause reasons.
const (
	ReasonStopRequested = "stop requested"
	ReasonInterrupted   = "interrupted"
	ReasonSetupFailed   = "setup failed"
)

var errInterrupted = errors.New("round interrupted")

// BackendFactory builds the twin backend for a battle. It is called on Start
// and on Resume with the battle's persisted options.
type BackendFactory func(st *state.BattleState) (twin.Backend, error)

// Reporter writes the end-of-battle report and returns its path.
type Reporter interface {
	Write(ctx context.Context, in report.Input) (string, error)
}

// Options holds the orchestrator's collaborators. There are no package
// globals; everything a battle touches is passed in here.
type Options struct {
	Store      *state.Store
	Memory     *memory.Store
	NewBackend BackendFactory
	Tools      tool.Runner
	Researcher research.Researcher
	Scorer     Scorer
	Reporter   Reporter
	Bus        *event.Bus
	Logger     *logging.Logger
	Tracer     trace.Tracer

	// ResearchBudget is each team's research quota per round.
	ResearchBudget      int
	RecallLimit         int
	SimilarityThreshold float64
	ResearchConcurrency int
	// LatencyRuns restores are measured at completion when the backend
	// supports it. Negative disables measurement.
	LatencyRuns int
}

// StartParams describes a new battle.
type StartParams struct {
	// ID is generated when empty.
	ID                 string
	TargetPath         string
	Mode               twin.Mode
	Rounds             int
	CheckpointInterval int

	DockerImage string
	QEMUMachine string
	Firmware    string
}

// ApplyPreset replaces the round budget and checkpoint interval with a
// preset's values.
func (p *StartParams) ApplyPreset(preset config.PresetConfig) {
	p.Rounds = preset.Rounds
	p.CheckpointInterval = preset.CheckpointInterval
}

// Orchestrator drives one battle.
type Orchestrator struct {
	opts   Options
	logger *logging.Logger

	mu sync.Mutex
	st *state.BattleState

	backend twin.Backend
	handles map[twin.Team]*twin.Handle
	leases  *twin.LeaseRegistry
	clients map[twin.Team]*memory.Client
	agents  map[twin.Team]*agent.Agent
	lock    *state.Lock
	watcher *stopWatcher

	stopRequested atomic.Bool
	reportPath    string
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.NewValidationError("state store is required").WithField("store")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NoopTracer()
	}
	if opts.Scorer == nil {
		opts.Scorer = DefaultScorer{}
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(opts.Logger)
	}
	if opts.LatencyRuns == 0 {
		opts.LatencyRuns = DefaultLatencyRuns
	}
	return &Orchestrator{
		opts:    opts,
		logger:  opts.Logger,
		handles: make(map[twin.Team]*twin.Handle),
		leases:  twin.NewLeaseRegistry(),
		clients: make(map[twin.Team]*memory.Client),
		agents:  make(map[twin.Team]*agent.Agent),
	}, nil
}

// Bus returns the event bus battle events are published on.
func (o *Orchestrator) Bus() *event.Bus { return o.opts.Bus }

// State returns a copy of the battle being driven, or nil.
func (o *Orchestrator) State() *state.BattleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Clone()
}

// ReportPath returns the report written at completion, if any.
func (o *Orchestrator) ReportPath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reportPath
}

// Start creates and persists a new battle and builds both twins. A missing
// target is rejected before any state is written. A twin setup failure
// leaves the battle persisted as paused and is returned.
func (o *Orchestrator) Start(ctx context.Context, p StartParams) (*state.BattleState, error) {
	ctx, span := o.opts.Tracer.Start(ctx, "battle.start")
	defer span.End()

	if p.Rounds < 1 {
		return nil, errors.NewValidationError("rounds must be at least 1").WithField("rounds").WithValue(p.Rounds)
	}
	if p.CheckpointInterval < 1 {
		p.CheckpointInterval = 1
	}
	mode, err := twin.ParseMode(string(p.Mode))
	if err != nil {
		return nil, err
	}
	target, err := filepath.Abs(p.TargetPath)
	if err != nil {
		return nil, errors.NewTwinError("invalid target path", errors.ErrTargetNotFound).WithPath(p.TargetPath)
	}
	if _, err := os.Stat(target); err != nil {
		return nil, errors.NewTwinError("target does not exist", errors.ErrTargetNotFound).
			WithPath(target).WithMode(string(mode))
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	st := state.New(id, target, string(mode), p.Rounds, p.CheckpointInterval)
	st.DockerImage = p.DockerImage
	st.QEMUMachine = p.QEMUMachine
	st.Firmware = p.Firmware
	o.logger = o.opts.Logger.WithBattle(id)
	if err := o.acquireLock(id); err != nil {
		return nil, err
	}
	if err := o.opts.Store.Save(ctx, st); err != nil {
		o.releaseLock()
		return nil, err
	}
	span.SetAttributes(attribute.String("battle.id", id), attribute.String("battle.mode", string(mode)))

	o.mu.Lock()
	o.st = st
	o.mu.Unlock()
	o.logger.Info("battle created", "target", target, "mode", mode, "rounds", p.Rounds,
		"checkpoint_interval", p.CheckpointInterval)

	if err := o.prepare(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.State(), err
	}
	return o.State(), nil
}

// Resume loads a persisted battle and prepares it to continue from the round
// after the last checkpoint. A completed battle is returned unchanged and
// Run becomes a no-op. A missing or corrupt battle is ErrBattleNotFound.
func (o *Orchestrator) Resume(ctx context.Context, battleID string) (*state.BattleState, error) {
	ctx, span := o.opts.Tracer.Start(ctx, "battle.resume", trace.WithAttributes(attribute.String("battle.id", battleID)))
	defer span.End()

	st, err := o.opts.Store.Load(ctx, battleID)
	if err != nil {
		return nil, err
	}
	o.logger = o.opts.Logger.WithBattle(battleID)
	if st.Status == state.StatusCompleted {
		o.mu.Lock()
		o.st = st
		o.mu.Unlock()
		o.logger.Info("battle already completed, nothing to resume")
		return st.Clone(), nil
	}

	// Nothing is written until the run lock is held. The state is read again
	// under the lock so a run that finished meanwhile is not overwritten.
	if err := o.acquireLock(battleID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if st, err = o.opts.Store.Load(ctx, battleID); err != nil {
		o.releaseLock()
		return nil, err
	}
	o.mu.Lock()
	o.st = st
	o.mu.Unlock()
	if st.Status == state.StatusCompleted {
		o.releaseLock()
		o.logger.Info("battle already completed, nothing to resume")
		return st.Clone(), nil
	}

	o.update(func(st *state.BattleState) {
		st.Status = state.StatusRunning
		st.LastError = ""
	})
	if err := o.save(ctx); err != nil {
		o.releaseLock()
		return nil, err
	}
	o.logger.Info("battle resumed", "from_round", st.NextRound(), "max_rounds", st.MaxRounds)

	if err := o.prepare(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.State(), err
	}
	return o.State(), nil
}

// acquireLock takes the battle's run lock. A lock held by another live
// process is a BattleError wrapping state.ErrBattleLocked.
func (o *Orchestrator) acquireLock(battleID string) error {
	lock, err := state.AcquireLock(state.BattleDir(o.opts.Store.DataDir(), battleID), battleID, o.logger)
	if err != nil {
		if errors.Is(err, state.ErrBattleLocked) {
			o.logger.Warn("battle is locked by another process", "error", err)
			return errors.NewBattleError("battle is already running", err).WithBattleID(battleID)
		}
		return err
	}
	o.lock = lock
	return nil
}

func (o *Orchestrator) releaseLock() {
	if o.lock == nil {
		return
	}
	if err := o.lock.Release(); err != nil {
		o.logger.Warn("failed to release run lock", "error", err)
	}
	o.lock = nil
}

// prepare builds both twins, the memory clients and the agents, and starts
// the stop watcher. The run lock is already held. Any failure pauses the
// battle.
func (o *Orchestrator) prepare(ctx context.Context) error {
	st := o.State()

	if err := o.setup(ctx, st); err != nil {
		o.teardown(ctx)
		return o.failSetup(ctx, err)
	}

	o.opts.Bus.Publish(event.NewBattleStartedEvent(st.ID, st.TargetPath, st.Mode, st.NextRound(), st.MaxRounds))
	return nil
}

func (o *Orchestrator) setup(ctx context.Context, st *state.BattleState) error {
	if o.opts.NewBackend == nil {
		return errors.NewValidationError("backend factory is required").WithField("backend")
	}
	if o.opts.Memory == nil {
		return errors.NewValidationError("memory store is required").WithField("memory")
	}
	if o.opts.Tools == nil {
		return errors.NewValidationError("tool runner is required").WithField("tools")
	}

	backend, err := o.opts.NewBackend(st)
	if err != nil {
		return err
	}
	o.backend = backend

	for _, team := range twin.Teams() {
		start := time.Now()
		h, err := backend.Create(ctx, team)
		if err != nil {
			return err
		}
		o.handles[team] = h
		o.leases.Register(h)
		o.logger.Info("twin created", "team", team, "target", h.Target, "duration", time.Since(start))

		client := o.opts.Memory.ForTeam(st.ID, string(team), o.opts.ResearchBudget)
		hidden, err := client.SupersedeAfter(ctx, st.CurrentRound)
		if err != nil {
			return err
		}
		if hidden > 0 {
			o.logger.Info("superseded memory from rounds after the checkpoint",
				"team", team, "after_round", st.CurrentRound, "rows", hidden)
		}
		a, err := agent.New(agent.Options{
			Role:                agent.RoleFor(team),
			Memory:              client,
			Tools:               o.opts.Tools,
			Researcher:          o.opts.Researcher,
			Logger:              o.logger,
			Tracer:              o.opts.Tracer,
			RecallLimit:         o.opts.RecallLimit,
			SimilarityThreshold: o.opts.SimilarityThreshold,
			ResearchConcurrency: o.opts.ResearchConcurrency,
		})
		if err != nil {
			return err
		}
		o.clients[team] = client
		o.agents[team] = a
	}

	w, err := watchStop(o.opts.Store, st.ID, o.logger, func(s state.Status) {
		if o.stopRequested.CompareAndSwap(false, true) {
			o.logger.Info("stop observed on state file", "status", s)
		}
	})
	if err != nil {
		// The between-round reload still observes stops.
		o.logger.Warn("failed to watch state file", "error", err)
	} else {
		o.watcher = w
	}
	return nil
}

func (o *Orchestrator) failSetup(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	o.logger.Error("battle setup failed", "error", cause)
	o.update(func(st *state.BattleState) {
		st.Status = state.StatusPaused
		st.LastError = cause.Error()
	})
	if err := o.save(ctx); err != nil {
		o.logger.Error("failed to persist paused state", "error", err)
	}
	o.releaseLock()
	st := o.State()
	o.opts.Bus.Publish(event.NewBattlePausedEvent(st.ID, st.CurrentRound, ReasonSetupFailed))
	return errors.NewBattleError("battle setup failed", cause).WithBattleID(st.ID)
}

// Run executes rounds CurrentRound+1..MaxRounds. State is persisted after
// every round n where n%checkpointInterval == 0 and after the last round. A
// checkpointInterval below 1 uses the battle's stored interval.
//
// Run returns nil when the battle completes or pauses on a stop request or
// cancellation; the persisted status says which.
func (o *Orchestrator) Run(ctx context.Context, checkpointInterval int) error {
	st := o.State()
	if st == nil {
		return errors.NewBattleError("no battle to run", errors.ErrBattleNotFound)
	}
	if st.Status == state.StatusCompleted {
		return nil
	}
	if st.Status != state.StatusRunning {
		return errors.NewBattleError("battle is not running", errors.ErrBattlePaused).WithBattleID(st.ID)
	}
	defer o.teardown(ctx)

	if checkpointInterval < 1 {
		checkpointInterval = st.CheckpointInterval
	} else {
		o.update(func(st *state.BattleState) { st.CheckpointInterval = checkpointInterval })
	}

	ctx, span := o.opts.Tracer.Start(ctx, "battle.run", trace.WithAttributes(
		attribute.String("battle.id", st.ID),
		attribute.Int("battle.from_round", st.NextRound()),
		attribute.Int("battle.max_rounds", st.MaxRounds),
	))
	defer span.End()

	for n := st.NextRound(); n <= st.MaxRounds; n++ {
		if reason, stop := o.stopReason(ctx); stop {
			return o.pause(ctx, reason)
		}
		if err := o.runRound(ctx, n, checkpointInterval); err != nil {
			if errors.Is(err, errInterrupted) {
				return o.pause(ctx, ReasonInterrupted)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if perr := o.pause(ctx, err.Error()); perr != nil {
				o.logger.Error("failed to pause after error", "error", perr)
			}
			return err
		}
	}
	return o.complete(ctx)
}

// stopReason checks the in-process flag, the context and the persisted
// status, in that order.
func (o *Orchestrator) stopReason(ctx context.Context) (string, bool) {
	if o.stopRequested.Load() {
		return ReasonStopRequested, true
	}
	if ctx.Err() != nil {
		return ReasonInterrupted, true
	}
	persisted, err := o.opts.Store.Load(ctx, o.State().ID)
	if err == nil && persisted.Status != state.StatusRunning {
		o.stopRequested.Store(true)
		return ReasonStopRequested, true
	}
	return "", false
}

func (o *Orchestrator) runRound(ctx context.Context, n, interval int) error {
	st := o.State()
	ctx, span := o.opts.Tracer.Start(ctx, "battle.round", trace.WithAttributes(
		attribute.String("battle.id", st.ID),
		attribute.Int("battle.round", n),
	))
	defer span.End()
	logger := o.logger.WithRound(n)

	o.opts.Bus.Publish(event.NewRoundStartedEvent(st.ID, n))
	logger.Info("round started")

	leases := make(map[twin.Team]*twin.Lease, 2)
	defer func() {
		for _, l := range leases {
			if err := o.leases.Release(l); err != nil {
				logger.Warn("failed to release twin", "team", l.Team, "error", err)
			}
		}
	}()
	for _, team := range twin.Teams() {
		l, err := o.leases.Acquire(team, o.handles[team], n)
		if err != nil {
			return err
		}
		leases[team] = l
	}

	caveats := o.restoreTwins(ctx, logger, n)

	for _, team := range twin.Teams() {
		o.clients[team].StartNewRound(n)
	}

	red := o.agents[twin.Red].RunRound(ctx, agent.RoundInput{
		BattleID: st.ID,
		Round:    n,
		Lease:    leases[twin.Red],
		Caveats:  caveats[twin.Red],
	})
	o.opts.Bus.Publish(event.NewPhaseCompletedEvent(st.ID, n, string(twin.Red), agent.PhaseStore,
		fmt.Sprintf("%d findings", len(red.Findings))))

	blue := o.agents[twin.Blue].RunRound(ctx, agent.RoundInput{
		BattleID: st.ID,
		Round:    n,
		Lease:    leases[twin.Blue],
		Findings: red.Findings,
		Caveats:  caveats[twin.Blue],
	})
	verified := len(blue.Verified())
	o.opts.Bus.Publish(event.NewPhaseCompletedEvent(st.ID, n, string(twin.Blue), agent.PhaseStore,
		fmt.Sprintf("%d/%d patches verified", verified, len(blue.Patches))))

	if ctx.Err() != nil {
		logger.Warn("round interrupted, not scoring", "error", ctx.Err())
		return errInterrupted
	}

	score := o.opts.Scorer.Score(RoundOutcome{Round: n, Findings: red.Findings, Patches: blue.Patches})
	o.update(func(st *state.BattleState) {
		st.RedTotalScore += score.Red
		st.BlueTotalScore += score.Blue
		st.CurrentRound = n
	})
	st = o.State()
	span.SetAttributes(attribute.Int("round.red_score", score.Red), attribute.Int("round.blue_score", score.Blue))
	o.opts.Bus.Publish(event.NewRoundCompletedEvent(st.ID, n, len(red.Findings), len(blue.Patches), verified,
		score.Red, score.Blue, st.RedTotalScore, st.BlueTotalScore))
	logger.Info("round completed", "findings", len(red.Findings), "patches", len(blue.Patches),
		"verified", verified, "red_score", score.Red, "blue_score", score.Blue)

	if state.ShouldCheckpoint(n, interval, st.MaxRounds) {
		if err := o.checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

// restoreTwins resets both twins to baseline. Failures are logged and
// returned as per-team caveats; the round proceeds either way.
func (o *Orchestrator) restoreTwins(ctx context.Context, logger *logging.Logger, n int) map[twin.Team][]string {
	caveats := make(map[twin.Team][]string)
	id := o.State().ID
	for _, team := range twin.Teams() {
		start := time.Now()
		err := o.backend.RestoreBaseline(ctx, o.handles[team])
		d := time.Since(start)
		o.opts.Bus.Publish(event.NewTwinRestoredEvent(id, n, string(team), d, err))
		if err != nil {
			logger.Warn("twin restore failed, round continues on unrestored twin", "team", team, "error", err,
				"severity", errors.GetSeverity(err).String(), "retryable", errors.IsRetryable(err))
			caveats[team] = append(caveats[team], "twin_restore_failed:"+err.Error())
			continue
		}
		logger.Debug("twin restored", "team", team, "duration", d)
	}
	return caveats
}

// checkpoint persists the in-memory state. A stop persisted by another
// process since the last reload wins over the running status.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	id := o.State().ID
	if persisted, err := o.opts.Store.Load(ctx, id); err == nil && persisted.Status != state.StatusRunning {
		o.stopRequested.Store(true)
		o.update(func(st *state.BattleState) { st.Status = state.StatusPaused })
	}
	if err := o.save(ctx); err != nil {
		return err
	}
	st := o.State()
	o.opts.Bus.Publish(event.NewCheckpointSavedEvent(id, st.CurrentRound))
	o.logger.Debug("checkpoint saved", "round", st.CurrentRound)
	return nil
}

func (o *Orchestrator) pause(ctx context.Context, reason string) error {
	ctx = context.WithoutCancel(ctx)
	o.update(func(st *state.BattleState) { st.Status = state.StatusPaused })
	if err := o.save(ctx); err != nil {
		return err
	}
	st := o.State()
	o.opts.Bus.Publish(event.NewBattlePausedEvent(st.ID, st.CurrentRound, reason))
	o.logger.Info("battle paused", "reason", reason, "current_round", st.CurrentRound)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	latency := o.measureLatency(ctx)

	o.update(func(st *state.BattleState) {
		st.Status = state.StatusCompleted
		st.EndedEarly = st.CurrentRound != st.MaxRounds
	})
	if err := o.save(ctx); err != nil {
		return err
	}
	st := o.State()

	var path string
	if o.opts.Reporter != nil {
		p, err := o.opts.Reporter.Write(ctx, report.Input{State: st, Latency: latency})
		if err != nil {
			o.logger.Error("failed to write report", "error", err)
		} else {
			path = p
			o.mu.Lock()
			o.reportPath = p
			o.mu.Unlock()
		}
	}

	o.opts.Bus.Publish(event.NewBattleCompletedEvent(st.ID, st.CurrentRound, st.RedTotalScore, st.BlueTotalScore, path))
	o.logger.Info("battle completed", "rounds", st.CurrentRound, "red_score", st.RedTotalScore,
		"blue_score", st.BlueTotalScore, "report", path)
	return nil
}

func (o *Orchestrator) measureLatency(ctx context.Context) map[twin.Team]firmware.LatencyReport {
	prober, ok := o.backend.(twin.LatencyProber)
	if !ok || o.opts.LatencyRuns < 0 {
		return nil
	}
	out := make(map[twin.Team]firmware.LatencyReport)
	for _, team := range twin.Teams() {
		r := prober.MeasureRestores(ctx, o.handles[team], o.opts.LatencyRuns)
		out[team] = r
		o.logger.Info("restore latency measured", "team", team, "summary", r.String())
	}
	return out
}

// teardown removes both twins and releases the run lock. It runs on every
// exit from Run and after a failed setup.
func (o *Orchestrator) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if o.watcher != nil {
		o.watcher.Close()
		o.watcher = nil
	}
	o.leases.ReleaseAll()
	if o.backend != nil {
		for _, team := range twin.Teams() {
			h, ok := o.handles[team]
			if !ok {
				continue
			}
			if err := o.backend.Teardown(ctx, h); err != nil {
				o.logger.Warn("failed to tear down twin", "team", team, "error", err)
			}
			delete(o.handles, team)
		}
	}
	o.releaseLock()
}

// Stop marks a battle paused and persists it immediately. A loop running in
// this process stops before its next round; loops in other processes see
// the persisted status.
func (o *Orchestrator) Stop(ctx context.Context, battleID string) (*state.BattleState, error) {
	if cur := o.State(); cur != nil && cur.ID == battleID {
		o.stopRequested.Store(true)
	}
	return StopBattle(ctx, o.opts.Store, battleID)
}

// StopBattle persists a paused status for battleID. Stopping a completed
// battle returns ErrBattleCompleted.
func StopBattle(ctx context.Context, store *state.Store, battleID string) (*state.BattleState, error) {
	st, err := store.Load(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if st.Status == state.StatusCompleted {
		return st, errors.NewBattleError("cannot stop", errors.ErrBattleCompleted).WithBattleID(battleID)
	}
	return store.SetStatus(ctx, battleID, state.StatusPaused)
}

func (o *Orchestrator) update(fn func(st *state.BattleState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o.st)
}

func (o *Orchestrator) save(ctx context.Context) error {
	snap := o.State()
	if err := o.opts.Store.Save(ctx, snap); err != nil {
		return err
	}
	o.update(func(st *state.BattleState) { st.UpdatedAt = snap.UpdatedAt })
	return nil
}
