package firmware

import (
	"fmt"
	"sort"
	"time"
)

// LatencyReport summarizes a series of snapshot restores.
type LatencyReport struct {
	Snapshot string
	Runs     int
	Failures int
	Min      time.Duration
	Mean     time.Duration
	P50      time.Duration
	Max      time.Duration
	Target   time.Duration
	// SlowMean is set when the mean exceeds Target. It is a flag for the
	// report, not a failure.
	SlowMean bool
	Errors   []string
}

// Summarize builds a report from successful restore durations.
func Summarize(snapshot string, samples []time.Duration, failures int, target time.Duration) LatencyReport {
	r := LatencyReport{Snapshot: snapshot, Runs: len(samples) + failures, Failures: failures, Target: target}
	if len(samples) == 0 {
		return r
	}

	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	r.Min = sorted[0]
	r.Max = sorted[len(sorted)-1]
	r.Mean = total / time.Duration(len(sorted))
	r.P50 = sorted[(len(sorted)-1)/2]
	r.SlowMean = target > 0 && r.Mean > target
	return r
}

// String renders a one-line summary.
func (r LatencyReport) String() string {
	s := fmt.Sprintf("%d restores of %q (%d failed): min %s, mean %s, p50 %s, max %s",
		r.Runs, r.Snapshot, r.Failures, r.Min, r.Mean, r.P50, r.Max)
	if r.SlowMean {
		s += fmt.Sprintf(" [mean above %s target]", r.Target)
	}
	return s
}
