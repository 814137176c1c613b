package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Client is one team's view of the memory store. Its scope is fixed at
// creation and applied to every query; no method accepts a scope.
//
// The research budget lives here rather than in the agent so the quota is
// enforced regardless of how the agent schedules lookups.
type Client struct {
	db       *sql.DB
	battleID string
	team     string
	quota    int

	mu        sync.Mutex
	round     int
	remaining int
}

// BattleID returns the scope's battle.
func (c *Client) BattleID() string { return c.battleID }

// Team returns the scope's team.
func (c *Client) Team() string { return c.team }

// Round returns the round set by the last StartNewRound.
func (c *Client) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// StartNewRound records the round number and resets the research budget to
// the quota. It is the only operation that raises the budget.
func (c *Client) StartNewRound(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.round = n
	c.remaining = c.quota
}

// ResearchBudgetRemaining returns the research calls left this round.
func (c *Client) ResearchBudgetRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// ConsumeResearch takes one unit of budget. It returns false, leaving the
// budget at zero, when none is left.
func (c *Client) ConsumeResearch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return true
}

// StoreEpisode appends ep to this scope. Team and Round are taken from the
// client, not from ep.
func (c *Client) StoreEpisode(ctx context.Context, ep Episode) (Episode, error) {
	if err := ctx.Err(); err != nil {
		return Episode{}, err
	}
	ep.Team = c.team
	if ep.Round == 0 {
		ep.Round = c.Round()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	res, err := c.db.ExecContext(ctx, `
INSERT INTO episodes (battle_id, team, round, actions, outcomes, learnings, tags, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		c.battleID,
		c.team,
		ep.Round,
		encodeList(ep.Actions),
		encodeList(ep.Outcomes),
		encodeList(ep.Learnings),
		encodeList(ep.TaxonomyTags),
		ep.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Episode{}, fmt.Errorf("store episode: %w", err)
	}
	ep.ID, _ = res.LastInsertId()
	return ep, nil
}

// StoreLesson records a verified success under key. Storing the same key
// again replaces the earlier lesson.
func (c *Client) StoreLesson(ctx context.Context, key, content string, tags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("lesson key is required")
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO lessons (battle_id, team, round, lesson_key, content, tags, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (battle_id, team, lesson_key) DO UPDATE SET
	round = excluded.round,
	content = excluded.content,
	tags = excluded.tags,
	created_at = excluded.created_at,
	superseded = 0
`,
		c.battleID, c.team, c.Round(), key, content, encodeList(tags), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store lesson: %w", err)
	}
	return nil
}

// RecordResearch stores the summary of a successful research call so later
// rounds can recall it.
func (c *Client) RecordResearch(ctx context.Context, topic, summary string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO research_notes (battle_id, team, round, topic, summary, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		c.battleID, c.team, c.Round(), topic, summary, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record research: %w", err)
	}
	return nil
}

// SupersedeAfter hides every row this scope wrote for rounds after round.
// A resumed battle calls it with the last checkpointed round so replayed
// rounds replace what an interrupted run already stored. Rows are kept and
// only flagged. It returns the number of rows hidden.
func (c *Client) SupersedeAfter(ctx context.Context, round int) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin supersede: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, table := range []string{"episodes", "lessons", "research_notes"} {
		res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET superseded = 1
WHERE battle_id = ? AND team = ? AND round > ? AND superseded = 0`, c.battleID, c.team, round)
		if err != nil {
			return 0, fmt.Errorf("supersede %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit supersede: %w", err)
	}
	return total, nil
}

// Episodes lists this scope's episodes in round order.
func (c *Client) Episodes(ctx context.Context) ([]Episode, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT id, round, actions, outcomes, learnings, tags, created_at
FROM episodes
WHERE battle_id = ? AND team = ? AND superseded = 0
ORDER BY round ASC, id ASC
`, c.battleID, c.team)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var (
			ep                                 Episode
			actions, outcomes, learnings, tags string
			created                            int64
		)
		if err := rows.Scan(&ep.ID, &ep.Round, &actions, &outcomes, &learnings, &tags, &created); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Team = c.team
		ep.Actions = decodeList(actions)
		ep.Outcomes = decodeList(outcomes)
		ep.Learnings = decodeList(learnings)
		ep.TaxonomyTags = decodeList(tags)
		ep.CreatedAt = time.UnixMilli(created).UTC()
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// Lessons lists this scope's lessons, oldest first.
func (c *Client) Lessons(ctx context.Context) ([]Lesson, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT lesson_key, round, content, tags, created_at
FROM lessons
WHERE battle_id = ? AND team = ? AND superseded = 0
ORDER BY id ASC
`, c.battleID, c.team)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		var (
			l       Lesson
			tags    string
			created int64
		)
		if err := rows.Scan(&l.Key, &l.Round, &l.Content, &tags, &created); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Tags = decodeList(tags)
		l.CreatedAt = time.UnixMilli(created).UTC()
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// ResearchCount returns how many research notes were recorded in round.
func (c *Client) ResearchCount(ctx context.Context, round int) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM research_notes WHERE battle_id = ? AND team = ? AND round = ? AND superseded = 0
`, c.battleID, c.team, round).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count research: %w", err)
	}
	return n, nil
}

// Recall ranks this scope's lessons, research notes and episode learnings
// against query and returns up to k items scoring at least threshold.
// Ties are broken by recency.
func (c *Client) Recall(ctx context.Context, query string, k int, threshold float64) (RecallResult, error) {
	if k <= 0 {
		return RecallResult{}, nil
	}
	candidates, err := c.candidates(ctx)
	if err != nil {
		return RecallResult{}, err
	}

	q := tokenize(query)
	var hits []Item
	for _, it := range candidates {
		it.Score = similarity(q, tokenize(it.Content+" "+strings.Join(it.Tags, " ")))
		if it.Score >= threshold && it.Score > 0 {
			hits = append(hits, it)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Round > hits[j].Round
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return RecallResult{Found: len(hits) > 0, Items: hits}, nil
}

func (c *Client) candidates(ctx context.Context) ([]Item, error) {
	var items []Item

	lessons, err := c.Lessons(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range lessons {
		items = append(items, Item{Kind: KindLesson, Round: l.Round, Content: l.Content, Tags: l.Tags})
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT round, topic, summary FROM research_notes
WHERE battle_id = ? AND team = ? AND superseded = 0
ORDER BY id ASC
`, c.battleID, c.team)
	if err != nil {
		return nil, fmt.Errorf("list research: %w", err)
	}
	for rows.Next() {
		var (
			round          int
			topic, summary string
		)
		if err := rows.Scan(&round, &topic, &summary); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan research: %w", err)
		}
		items = append(items, Item{Kind: KindResearch, Round: round, Content: topic + ": " + summary})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	episodes, err := c.Episodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, ep := range episodes {
		if len(ep.Learnings) == 0 {
			continue
		}
		items = append(items, Item{
			Kind:    KindEpisode,
			Round:   ep.Round,
			Content: strings.Join(ep.Learnings, "; "),
			Tags:    ep.TaxonomyTags,
		})
	}
	return items, nil
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeList(s string) []string {
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}
