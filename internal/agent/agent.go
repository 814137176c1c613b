// Package agent implements the cognition loop shared by the Attacker and the
// Defender. One RunRound call executes recall, research, act, reflect and
// store in that order. Phases never retry; a failing phase is recorded as an
// outcome and the loop moves on.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/memory"
	"github.com/Iron-Ham/twinbattle/internal/observability"
	"github.com/Iron-Ham/twinbattle/internal/research"
	"github.com/Iron-Ham/twinbattle/internal/tool"
	"github.com/Iron-Ham/twinbattle/internal/twin"
)

// Phase names, in execution order.
const (
	PhaseRecall   = "recall"
	PhaseResearch = "research"
	PhaseAct      = "act"
	PhaseReflect  = "reflect"
	PhaseStore    = "store"
)

// Defaults for recall and research.
const (
	DefaultRecallLimit         = 5
	DefaultSimilarityThreshold = 0.3
	DefaultResearchConcurrency = 2
)

// Outcome and learning strings written into episodes.
const (
	OutcomeResearchSkipped = "research_skipped:budget_exhausted"
	LearningNoFindings     = "no vulnerabilities found - try different attack vectors"
	LearningNothingToPatch = "no findings to patch this round"
	LearningUnverified     = "some patches failed verification - review patch approach"
	LearningBroken         = "some patches broke functionality - prefer narrower fixes"
)

var errBudgetExhausted = errors.New("research budget exhausted")

// Options configures an Agent.
type Options struct {
	Role Role
	// Memory is the team-bound memory client. Required.
	Memory *memory.Client
	// Tools is the audit/patch collaborator. Required.
	Tools tool.Runner
	// Researcher is optional; nil skips the research phase.
	Researcher research.Researcher
	Logger     *logging.Logger
	Tracer     trace.Tracer

	RecallLimit         int
	SimilarityThreshold float64
	// ResearchConcurrency bounds parallel lookups within the research phase.
	ResearchConcurrency int
}

// Agent runs rounds for one team.
type Agent struct {
	opts   Options
	logger *logging.Logger
}

// New creates an agent.
func New(opts Options) (*Agent, error) {
	if opts.Role != RoleAttacker && opts.Role != RoleDefender {
		return nil, errors.NewValidationError("unknown agent role").WithField("role").WithValue(opts.Role)
	}
	if opts.Memory == nil {
		return nil, errors.NewValidationError("memory client is required").WithField("memory")
	}
	if opts.Tools == nil {
		return nil, errors.NewValidationError("tool runner is required").WithField("tools")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NoopTracer()
	}
	if opts.RecallLimit <= 0 {
		opts.RecallLimit = DefaultRecallLimit
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if opts.ResearchConcurrency <= 0 {
		opts.ResearchConcurrency = DefaultResearchConcurrency
	}
	return &Agent{
		opts:   opts,
		logger: opts.Logger.WithTeam(string(opts.Role.Team())).With("role", string(opts.Role)),
	}, nil
}

// Role returns the agent's role.
func (a *Agent) Role() Role { return a.opts.Role }

// Team returns the team the agent plays for.
func (a *Agent) Team() twin.Team { return a.opts.Role.Team() }

// RoundInput is what the orchestrator hands an agent for one round.
type RoundInput struct {
	BattleID string
	Round    int
	// Lease is the agent's own twin. Tools are only ever pointed at it.
	Lease *twin.Lease
	// Findings are this round's Attacker findings; Defender only.
	Findings []Finding
	// Caveats are orchestrator notes, such as a failed twin restore, copied
	// into the episode outcomes.
	Caveats []string
}

// RoundResult is what one round produced.
type RoundResult struct {
	Round     int
	Team      twin.Team
	Findings  []Finding
	Patches   []Patch
	Recalled  []memory.Item
	Research  []research.Result
	Actions   []string
	Outcomes  []string
	Learnings []string
	Episode   memory.Episode
}

// Verified returns the patches that passed verification.
func (r RoundResult) Verified() []Patch {
	var out []Patch
	for _, p := range r.Patches {
		if p.Verified {
			out = append(out, p)
		}
	}
	return out
}

// RunRound executes one full cognition loop. It never returns an error:
// phase failures are folded into the result's outcomes.
func (a *Agent) RunRound(ctx context.Context, in RoundInput) RoundResult {
	ctx, span := a.opts.Tracer.Start(ctx, "agent.round", trace.WithAttributes(
		attribute.String("battle.id", in.BattleID),
		attribute.Int("battle.round", in.Round),
		attribute.String("agent.role", string(a.opts.Role)),
	))
	defer span.End()

	logger := a.logger.WithBattle(in.BattleID).WithRound(in.Round)
	res := RoundResult{Round: in.Round, Team: a.Team()}
	res.Outcomes = append(res.Outcomes, in.Caveats...)

	if in.Lease == nil || in.Lease.Team != a.Team() {
		err := errors.NewTwinError("agent has no lease on its own twin", errors.ErrTwinNotOwned).
			WithTeam(string(a.Team()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("round aborted", "error", err)
		res.Outcomes = append(res.Outcomes, "act_error:"+err.Error())
		a.reflect(&res)
		a.store(ctx, logger, in, &res)
		return res
	}

	a.recall(ctx, logger, in, &res)
	a.research(ctx, logger, in, &res)
	a.act(ctx, logger, in, &res)
	a.reflect(&res)
	a.store(ctx, logger, in, &res)

	span.SetAttributes(
		attribute.Int("agent.findings", len(res.Findings)),
		attribute.Int("agent.patches", len(res.Patches)),
	)
	return res
}

func (a *Agent) phase(ctx context.Context, name string) (context.Context, trace.Span) {
	return a.opts.Tracer.Start(ctx, "agent."+name, trace.WithAttributes(
		attribute.String("agent.role", string(a.opts.Role)),
	))
}

// recallQuery is what the agent asks its memory for.
func (a *Agent) recallQuery(in RoundInput) string {
	if a.opts.Role == RoleAttacker {
		return "attack technique vulnerability exploit"
	}
	types := findingTypes(in.Findings)
	if len(types) == 0 {
		return "defense patch hardening"
	}
	return "patch defense for " + strings.Join(types, " ")
}

func (a *Agent) recall(ctx context.Context, logger *logging.Logger, in RoundInput, res *RoundResult) {
	ctx, span := a.phase(ctx, PhaseRecall)
	defer span.End()
	logger = logger.WithPhase(PhaseRecall)

	query := a.recallQuery(in)
	got, err := a.opts.Memory.Recall(ctx, query, a.opts.RecallLimit, a.opts.SimilarityThreshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("recall failed", "error", err)
		res.Outcomes = append(res.Outcomes, "recall_error:"+err.Error())
		return
	}
	res.Recalled = got.Items
	res.Actions = append(res.Actions, fmt.Sprintf("recall:%d", len(got.Items)))
	span.SetAttributes(attribute.Int("recall.items", len(got.Items)))
	logger.Debug("recalled memory", "items", len(got.Items), "found", got.Found)
}

// researchTopics derives lookup topics from what the agent is about to do.
func (a *Agent) researchTopics(res *RoundResult, findings []Finding) []string {
	var topics []string
	if a.opts.Role == RoleAttacker {
		for _, item := range res.Recalled {
			if item.Kind == memory.KindLesson {
				topics = append(topics, "variants of "+firstLine(item.Content))
			}
		}
		topics = append(topics,
			"common firmware and application vulnerability classes",
			"static analysis heuristics for memory corruption",
		)
	} else {
		for _, t := range findingTypes(findings) {
			topics = append(topics, "mitigations for "+t)
		}
		if len(topics) == 0 {
			topics = append(topics, "proactive hardening checklist")
		}
	}
	return dedupe(topics)
}

func (a *Agent) research(ctx context.Context, logger *logging.Logger, in RoundInput, res *RoundResult) {
	ctx, span := a.phase(ctx, PhaseResearch)
	defer span.End()
	logger = logger.WithPhase(PhaseResearch)

	if a.opts.Researcher == nil {
		logger.Debug("no researcher configured")
		return
	}
	remaining := a.opts.Memory.ResearchBudgetRemaining()
	if remaining == 0 {
		logger.Info(OutcomeResearchSkipped)
		res.Outcomes = append(res.Outcomes, OutcomeResearchSkipped)
		return
	}

	topics := a.researchTopics(res, in.Findings)
	if len(topics) > remaining {
		topics = topics[:remaining]
	}

	p := pool.NewWithResults[research.Result]().
		WithErrors().
		WithContext(ctx).
		WithMaxGoroutines(a.opts.ResearchConcurrency)
	for _, topic := range topics {
		p.Go(func(ctx context.Context) (research.Result, error) {
			r, err := a.opts.Researcher.Research(ctx, topic)
			if err != nil {
				return r, errors.Wrapf(err, "research %q", topic)
			}
			if !a.opts.Memory.ConsumeResearch() {
				return r, errors.Wrapf(errBudgetExhausted, "research %q", topic)
			}
			if err := a.opts.Memory.RecordResearch(ctx, r.Topic, r.Summary); err != nil {
				logger.Warn("failed to record research", "topic", topic, "error", err)
			}
			return r, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		span.RecordError(err)
		logger.Warn("some research lookups failed", "error", err)
		res.Outcomes = append(res.Outcomes, "research_error:"+err.Error())
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Topic < results[j].Topic })
	res.Research = append(res.Research, results...)
	res.Actions = append(res.Actions, fmt.Sprintf("research:%d/%d", len(results), len(topics)))
	span.SetAttributes(attribute.Int("research.succeeded", len(results)))
	logger.Info("research complete", "topics", len(topics), "succeeded", len(results),
		"budget_remaining", a.opts.Memory.ResearchBudgetRemaining())
}

func (a *Agent) act(ctx context.Context, logger *logging.Logger, in RoundInput, res *RoundResult) {
	ctx, span := a.phase(ctx, PhaseAct)
	defer span.End()
	logger = logger.WithPhase(PhaseAct)

	if a.opts.Role == RoleAttacker {
		a.attack(ctx, span, logger, in, res)
		return
	}
	a.defend(ctx, span, logger, in, res)
}

func (a *Agent) attack(ctx context.Context, span trace.Span, logger *logging.Logger, in RoundInput, res *RoundResult) {
	target := in.Lease.Target()
	report := a.opts.Tools.Audit(ctx, target)
	res.Actions = append(res.Actions, "audit:"+target)

	if report.Err != nil {
		span.RecordError(report.Err)
		logger.Warn("audit tool failed", "error", report.Err, "exit_code", report.ExitCode)
		res.Outcomes = append(res.Outcomes, "audit_error:"+report.Err.Error())
	}
	if report.ParseError != "" {
		logger.Warn("audit output malformed", "error", report.ParseError)
		res.Outcomes = append(res.Outcomes, "audit_parse_error:"+report.ParseError)
	}

	for _, af := range report.Findings {
		res.Findings = append(res.Findings, findingFromAudit(af))
	}
	res.Outcomes = append(res.Outcomes, fmt.Sprintf("findings:%d", len(res.Findings)))
	span.SetAttributes(attribute.Int("act.findings", len(res.Findings)))
	logger.Info("audit complete", "findings", len(res.Findings), "duration", report.Duration)
}

func findingFromAudit(af tool.AuditFinding) Finding {
	t := ParseAttackType(af.Type)
	tags := append([]string{string(t)}, af.Tags...)
	path := af.FilePath
	if path != "" && af.Line > 0 {
		path = fmt.Sprintf("%s:%d", path, af.Line)
	}
	return Finding{
		ID:          uuid.NewString(),
		Type:        t,
		Severity:    ParseSeverity(af.Severity),
		Description: af.Description,
		FilePath:    path,
		Tags:        dedupe(tags),
	}
}

func (a *Agent) defend(ctx context.Context, span trace.Span, logger *logging.Logger, in RoundInput, res *RoundResult) {
	target := in.Lease.Target()
	for _, f := range in.Findings {
		if err := ctx.Err(); err != nil {
			res.Outcomes = append(res.Outcomes, "patch_error:"+err.Error())
			break
		}
		report := a.opts.Tools.Patch(ctx, f.IssueText(), target)
		res.Actions = append(res.Actions, "patch:"+f.ID)

		patch := Patch{
			ID:                     uuid.NewString(),
			FindingID:              f.ID,
			Type:                   ParseDefenseType(report.Type, f.Type),
			Diff:                   report.Diff,
			Verified:               report.Verified,
			FunctionalityPreserved: report.Verified && report.FunctionalityPreserved,
		}
		res.Patches = append(res.Patches, patch)

		if report.Err != nil {
			span.RecordError(report.Err)
			logger.Warn("patch tool failed", "finding_id", f.ID, "error", report.Err, "exit_code", report.ExitCode)
			res.Outcomes = append(res.Outcomes, fmt.Sprintf("patch_error:%s:%s", f.ID, report.Err.Error()))
		}
	}
	verified := len(res.Verified())
	res.Outcomes = append(res.Outcomes, fmt.Sprintf("patches:%d/%d verified", verified, len(res.Patches)))
	span.SetAttributes(attribute.Int("act.patches", len(res.Patches)), attribute.Int("act.verified", verified))
	logger.Info("patching complete", "findings", len(in.Findings), "patches", len(res.Patches), "verified", verified)
}

// reflect derives learnings from the round's results. It is purely local.
func (a *Agent) reflect(res *RoundResult) {
	if a.opts.Role == RoleAttacker {
		if len(res.Findings) == 0 {
			res.Learnings = append(res.Learnings, LearningNoFindings)
			return
		}
		bySeverity := make(map[Severity]int)
		for _, f := range res.Findings {
			bySeverity[f.Severity]++
		}
		for _, s := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
			if n := bySeverity[s]; n > 0 {
				res.Learnings = append(res.Learnings, fmt.Sprintf("found %d %s severity issues", n, s))
			}
		}
		for _, t := range findingTypes(res.Findings) {
			res.Learnings = append(res.Learnings, "effective vector: "+t)
		}
		return
	}

	if len(res.Patches) == 0 {
		res.Learnings = append(res.Learnings, LearningNothingToPatch)
		return
	}
	var unverified, broken int
	for _, p := range res.Patches {
		switch {
		case !p.Verified:
			unverified++
		case !p.FunctionalityPreserved:
			broken++
		}
	}
	res.Learnings = append(res.Learnings,
		fmt.Sprintf("verified %d of %d patches", len(res.Patches)-unverified, len(res.Patches)))
	if unverified > 0 {
		res.Learnings = append(res.Learnings, LearningUnverified)
	}
	if broken > 0 {
		res.Learnings = append(res.Learnings, LearningBroken)
	}
}

func (a *Agent) store(ctx context.Context, logger *logging.Logger, in RoundInput, res *RoundResult) {
	ctx, span := a.phase(ctx, PhaseStore)
	defer span.End()
	logger = logger.WithPhase(PhaseStore)

	tags := []string{fmt.Sprintf("round_%d", res.Round), string(res.Team), string(a.opts.Role)}
	tags = append(tags, findingTypes(res.Findings)...)
	for _, p := range res.Patches {
		tags = append(tags, string(p.Type))
	}

	ep, err := a.opts.Memory.StoreEpisode(ctx, memory.Episode{
		Round:        res.Round,
		Actions:      res.Actions,
		Outcomes:     res.Outcomes,
		Learnings:    res.Learnings,
		TaxonomyTags: dedupe(tags),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("failed to store episode", "error", err)
	} else {
		res.Episode = ep
	}

	for key, content := range a.lessons(in, res) {
		if err := a.opts.Memory.StoreLesson(ctx, key, content.text, content.tags); err != nil {
			span.RecordError(err)
			logger.Warn("failed to store lesson", "key", key, "error", err)
		}
	}
}

type lesson struct {
	text string
	tags []string
}

// lessons returns one lesson per verified success, keyed by Finding or
// Patch ID.
func (a *Agent) lessons(in RoundInput, res *RoundResult) map[string]lesson {
	out := make(map[string]lesson)
	if a.opts.Role == RoleAttacker {
		for _, f := range res.Findings {
			out[f.ID] = lesson{
				text: fmt.Sprintf("%s vulnerability exploit technique (%s severity): %s", f.Type, f.Severity, f.IssueText()),
				tags: append([]string{string(f.Type), string(f.Severity)}, f.Tags...),
			}
		}
		return out
	}
	against := make(map[string]AttackType, len(in.Findings))
	for _, f := range in.Findings {
		against[f.ID] = f.Type
	}
	for _, p := range res.Verified() {
		text := fmt.Sprintf("%s patch defense for %s verified", p.Type, against[p.FindingID])
		if p.FunctionalityPreserved {
			text += " with functionality preserved"
		}
		out[p.ID] = lesson{text: text, tags: []string{string(p.Type), string(against[p.FindingID])}}
	}
	return out
}

func findingTypes(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, string(f.Type))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
