package firmware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	ms := time.Millisecond
	r := Summarize("golden", []time.Duration{40 * ms, 10 * ms, 30 * ms, 20 * ms}, 1, 500*ms)

	assert.Equal(t, 5, r.Runs)
	assert.Equal(t, 1, r.Failures)
	assert.Equal(t, 10*ms, r.Min)
	assert.Equal(t, 40*ms, r.Max)
	assert.Equal(t, 25*ms, r.Mean)
	assert.Equal(t, 20*ms, r.P50)
	assert.False(t, r.SlowMean)
}

func TestSummarize_SlowMean(t *testing.T) {
	r := Summarize("golden", []time.Duration{600 * time.Millisecond, 700 * time.Millisecond}, 0, 500*time.Millisecond)
	assert.True(t, r.SlowMean)
}

func TestSummarize_NoSamples(t *testing.T) {
	r := Summarize("golden", nil, 3, 500*time.Millisecond)
	assert.Equal(t, 3, r.Runs)
	assert.Zero(t, r.Mean)
	assert.False(t, r.SlowMean)
}
