package memory

import "time"

// Episode is one team's record of one round. Episodes are append-only.
type Episode struct {
	ID           int64     `json:"id"`
	Round        int       `json:"round"`
	Team         string    `json:"team"`
	Actions      []string  `json:"actions"`
	Outcomes     []string  `json:"outcomes"`
	Learnings    []string  `json:"learnings"`
	TaxonomyTags []string  `json:"taxonomy_tags"`
	CreatedAt    time.Time `json:"created_at"`
}

// Lesson is a standalone verified success, keyed by the Finding or Patch ID
// that produced it.
type Lesson struct {
	Key       string    `json:"key"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// ResearchNote is the stored result of one successful research call.
type ResearchNote struct {
	Round     int       `json:"round"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemKind says which table a recalled item came from.
type ItemKind string

const (
	KindEpisode  ItemKind = "episode"
	KindLesson   ItemKind = "lesson"
	KindResearch ItemKind = "research"
)

// Item is one ranked recall hit.
type Item struct {
	Kind    ItemKind `json:"kind"`
	Round   int      `json:"round"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	Score   float64  `json:"score"`
}

// RecallResult is the outcome of a recall query. Found is false when no item
// scored at or above the threshold.
type RecallResult struct {
	Found bool   `json:"found"`
	Items []Item `json:"items"`
}
