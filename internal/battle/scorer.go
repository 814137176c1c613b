package battle

import "github.com/Iron-Ham/twinbattle/internal/agent"

// RoundOutcome is what a Scorer sees of one round.
type RoundOutcome struct {
	Round    int
	Findings []agent.Finding
	Patches  []agent.Patch
}

// Score is the points each team earned in one round.
type Score struct {
	Red  int
	Blue int
}

// Scorer turns a round outcome into points.
type Scorer interface {
	Score(RoundOutcome) Score
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(RoundOutcome) Score

// Score calls f.
func (f ScorerFunc) Score(o RoundOutcome) Score { return f(o) }

// Default scoring weights.
const (
	PointsPerSeverityWeight = 10
	PointsPerVerifiedPatch  = 15
	PointsForPreservation   = 5
)

// DefaultScorer awards Red 10 points per finding times its severity weight
// and Blue 15 points per verified patch, plus 5 when functionality was
// preserved.
type DefaultScorer struct{}

// Score implements Scorer.
func (DefaultScorer) Score(o RoundOutcome) Score {
	var s Score
	for _, f := range o.Findings {
		s.Red += PointsPerSeverityWeight * f.Severity.Weight()
	}
	for _, p := range o.Patches {
		if !p.Verified {
			continue
		}
		s.Blue += PointsPerVerifiedPatch
		if p.FunctionalityPreserved {
			s.Blue += PointsForPreservation
		}
	}
	return s
}
