package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/theme"
)

// LoadOpts bounds what LoadCycleState reads.
type LoadOpts struct {
	// WeekAgo is the cutoff for the week-old theme builder counts.
	WeekAgo time.Time
	// OpenSince is the earliest detection time of open events to return.
	OpenSince time.Time
}

// FounderTexts are the repo descriptions and post titles of one founder.
type FounderTexts struct {
	Repos []embed.WeightedText
	Posts []embed.WeightedText
}

// CycleState is the consistent "before" view a cycle starts from. It is read
// in a single transaction so no concurrent write can tear it.
type CycleState struct {
	Founders []Founder
	Texts    map[string]FounderTexts
	// Signals holds signal labels per founder, newest first.
	Signals map[string][]string
	// Previous is each founder's latest stats snapshot.
	Previous   map[string]anomaly.FounderSnapshot
	Embeddings map[string]embed.Cached
	// Themes are all themes with their active members.
	Themes []Theme
	// WeekAgo holds the builder count recorded at or before LoadOpts.WeekAgo.
	WeekAgo    map[string]int
	OpenEvents []anomaly.Event
}

// FounderScore is one founder's result for a cycle.
type FounderScore struct {
	FounderID  string
	Dimensions score.Vector
	Composite  int
	Facts      score.Facts
}

// ThemeUpdate is the new state of one theme. Members is the full desired set
// of active members; memberships missing from it are closed.
type ThemeUpdate struct {
	Theme   Theme
	Members []ThemeMember
}

// CycleCommit is everything a cycle writes.
type CycleCommit struct {
	At         time.Time
	Scores     []FounderScore
	Embeddings map[string]embed.Cached
	Themes     []ThemeUpdate
	Events     []anomaly.Event
}

func (s *SQLiteStore) LoadCycleState(ctx context.Context, opts LoadOpts) (*CycleState, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	st := &CycleState{
		Texts:      make(map[string]FounderTexts),
		Signals:    make(map[string][]string),
		Previous:   make(map[string]anomaly.FounderSnapshot),
		Embeddings: make(map[string]embed.Cached),
		WeekAgo:    make(map[string]int),
	}

	if err := tx.SelectContext(ctx, &st.Founders, "SELECT * FROM founders ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load founders: %w", err)
	}
	facts, err := loadFacts(ctx, tx, nil)
	if err != nil {
		return nil, err
	}
	for i := range st.Founders {
		st.Founders[i].Facts = facts[st.Founders[i].ID]
		st.Founders[i].fill()
	}

	if err := loadTexts(ctx, tx, st.Texts); err != nil {
		return nil, err
	}
	if err := loadSignalLabels(ctx, tx, st.Signals); err != nil {
		return nil, err
	}
	if err := loadPrevious(ctx, tx, st.Previous); err != nil {
		return nil, err
	}
	if err := loadEmbeddings(ctx, tx, st.Embeddings); err != nil {
		return nil, err
	}

	st.Themes, err = listThemes(ctx, tx, ThemeListOpts{Limit: -1})
	if err != nil {
		return nil, err
	}
	if err := loadWeekAgo(ctx, tx, opts.WeekAgo, st.WeekAgo); err != nil {
		return nil, err
	}

	if err := tx.SelectContext(ctx, &st.OpenEvents, `
		SELECT * FROM emergence_events WHERE status = ? AND detected_at >= ? ORDER BY detected_at
	`, anomaly.StatusNew, opts.OpenSince.UTC()); err != nil {
		return nil, fmt.Errorf("load open events: %w", err)
	}

	return st, nil
}

func loadTexts(ctx context.Context, tx *sqlx.Tx, out map[string]FounderTexts) error {
	var rows []struct {
		FounderID string  `db:"founder_id"`
		Kind      string  `db:"kind"`
		Text      string  `db:"text"`
		Weight    float64 `db:"weight"`
	}
	if err := tx.SelectContext(ctx, &rows, "SELECT * FROM founder_texts ORDER BY founder_id, kind, text"); err != nil {
		return fmt.Errorf("load texts: %w", err)
	}
	for _, r := range rows {
		ft := out[r.FounderID]
		wt := embed.WeightedText{Text: r.Text, Weight: r.Weight}
		if r.Kind == textKindRepo {
			ft.Repos = append(ft.Repos, wt)
		} else {
			ft.Posts = append(ft.Posts, wt)
		}
		out[r.FounderID] = ft
	}
	return nil
}

func loadSignalLabels(ctx context.Context, tx *sqlx.Tx, out map[string][]string) error {
	var rows []struct {
		FounderID string `db:"founder_id"`
		Label     string `db:"label"`
	}
	if err := tx.SelectContext(ctx, &rows,
		"SELECT founder_id, label FROM signals ORDER BY founder_id, detected_at DESC, id DESC"); err != nil {
		return fmt.Errorf("load signals: %w", err)
	}
	for _, r := range rows {
		out[r.FounderID] = append(out[r.FounderID], r.Label)
	}
	return nil
}

func loadPrevious(ctx context.Context, tx *sqlx.Tx, out map[string]anomaly.FounderSnapshot) error {
	var rows []struct {
		FounderID  string    `db:"founder_id"`
		Facts      string    `db:"facts"`
		Composite  int       `db:"composite"`
		CapturedAt time.Time `db:"captured_at"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT s.founder_id, s.facts, s.composite, s.captured_at
		FROM stats_snapshots s
		WHERE s.id = (SELECT MAX(id) FROM stats_snapshots WHERE founder_id = s.founder_id)
	`); err != nil {
		return fmt.Errorf("load previous snapshots: %w", err)
	}
	for _, r := range rows {
		facts := score.Facts{}
		if err := json.Unmarshal([]byte(r.Facts), &facts); err != nil {
			return fmt.Errorf("decode snapshot for %s: %w", r.FounderID, err)
		}
		out[r.FounderID] = anomaly.FounderSnapshot{
			FounderID:  r.FounderID,
			Facts:      facts,
			Composite:  r.Composite,
			CapturedAt: r.CapturedAt,
		}
	}
	return nil
}

func loadEmbeddings(ctx context.Context, tx *sqlx.Tx, out map[string]embed.Cached) error {
	var rows []struct {
		FounderID   string    `db:"founder_id"`
		Vector      []byte    `db:"vector"`
		ContentHash string    `db:"content_hash"`
		EmbeddedAt  time.Time `db:"embedded_at"`
	}
	if err := tx.SelectContext(ctx, &rows, "SELECT * FROM founder_embeddings"); err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	for _, r := range rows {
		out[r.FounderID] = embed.Cached{Hash: r.ContentHash, Vector: decodeVector(r.Vector)}
	}
	return nil
}

func loadWeekAgo(ctx context.Context, tx *sqlx.Tx, cutoff time.Time, out map[string]int) error {
	if cutoff.IsZero() {
		return nil
	}
	var rows []struct {
		ThemeID      string `db:"theme_id"`
		BuilderCount int    `db:"builder_count"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT h.theme_id, h.builder_count
		FROM theme_history h
		WHERE h.id = (
			SELECT id FROM theme_history
			WHERE theme_id = h.theme_id AND captured_at <= ?
			ORDER BY captured_at DESC, id DESC LIMIT 1
		)
	`, cutoff.UTC()); err != nil {
		return fmt.Errorf("load week-old theme history: %w", err)
	}
	for _, r := range rows {
		out[r.ThemeID] = r.BuilderCount
	}
	return nil
}

// CommitCycle writes a cycle's results in one transaction: latest and
// historical scores, a stats snapshot per scored founder, refreshed
// embeddings, theme state with membership changes and history, and new
// events. Nothing is written if any step fails.
func (s *SQLiteStore) CommitCycle(ctx context.Context, c *CycleCommit) error {
	at := c.At.UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, sc := range c.Scores {
		if err := writeScore(ctx, tx, sc, at); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(c.Embeddings))
	for id := range c.Embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := c.Embeddings[id]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO founder_embeddings (founder_id, vector, content_hash, embedded_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(founder_id) DO UPDATE SET
				vector = excluded.vector,
				content_hash = excluded.content_hash,
				embedded_at = excluded.embedded_at
		`, id, encodeVector(e.Vector), e.Hash, at); err != nil {
			return fmt.Errorf("save embedding %s: %w", id, err)
		}
	}

	for i := range c.Themes {
		if err := writeTheme(ctx, tx, &c.Themes[i], at); err != nil {
			return err
		}
	}

	for _, e := range c.Events {
		e.DetectedAt = e.DetectedAt.UTC()
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO emergence_events (id, type, entity_type, entity_id, before_value, after_value,
				confidence, detail, status, detected_at)
			VALUES (:id, :type, :entity_type, :entity_id, :before_value, :after_value,
				:confidence, :detail, :status, :detected_at)
		`, e); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

func writeScore(ctx context.Context, tx *sqlx.Tx, sc FounderScore, at time.Time) error {
	d := sc.Dimensions
	if _, err := tx.ExecContext(ctx, `
		UPDATE founders SET
			founder_quality = ?, execution_velocity = ?, market_conviction = ?,
			early_traction = ?, deal_availability = ?, composite = ?, scored_at = ?
		WHERE id = ?
	`, d[score.FounderQuality], d[score.ExecutionVelocity], d[score.MarketConviction],
		d[score.EarlyTraction], d[score.DealAvailability], sc.Composite, at, sc.FounderID); err != nil {
		return fmt.Errorf("update score %s: %w", sc.FounderID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scores (founder_id, founder_quality, execution_velocity, market_conviction,
			early_traction, deal_availability, composite, scored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.FounderID, d[score.FounderQuality], d[score.ExecutionVelocity], d[score.MarketConviction],
		d[score.EarlyTraction], d[score.DealAvailability], sc.Composite, at); err != nil {
		return fmt.Errorf("insert score %s: %w", sc.FounderID, err)
	}

	factsJSON, err := json.Marshal(sc.Facts)
	if err != nil {
		return fmt.Errorf("encode facts %s: %w", sc.FounderID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stats_snapshots (founder_id, facts, composite, captured_at) VALUES (?, ?, ?, ?)
	`, sc.FounderID, string(factsJSON), sc.Composite, at); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", sc.FounderID, err)
	}
	return nil
}

func writeTheme(ctx context.Context, tx *sqlx.Tx, u *ThemeUpdate, at time.Time) error {
	t := &u.Theme
	if t.Stage == "" {
		t.Stage = theme.Nascent
	}
	if t.FirstDetected.IsZero() {
		t.FirstDetected = at
	}
	t.BuilderCount = len(u.Members)
	t.UpdatedAt = at

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO themes (id, name, pain, unlock, origin, centroid, density, builder_count,
			weekly_velocity, emergence_score, stage, stage_strikes, first_detected, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pain = excluded.pain,
			unlock = excluded.unlock,
			origin = excluded.origin,
			centroid = excluded.centroid,
			density = excluded.density,
			builder_count = excluded.builder_count,
			weekly_velocity = excluded.weekly_velocity,
			emergence_score = excluded.emergence_score,
			stage = excluded.stage,
			stage_strikes = excluded.stage_strikes,
			updated_at = excluded.updated_at
	`, t.ID, t.Name, t.Pain, t.Unlock, t.Origin, encodeVector(t.Centroid), t.Density, t.BuilderCount,
		t.WeeklyVelocity, t.EmergenceScore, t.Stage, t.StageStrikes, t.FirstDetected.UTC(), at); err != nil {
		return fmt.Errorf("upsert theme %s: %w", t.ID, err)
	}

	var active []ThemeMember
	if err := tx.SelectContext(ctx, &active,
		"SELECT * FROM theme_members WHERE theme_id = ? AND active = 1", t.ID); err != nil {
		return fmt.Errorf("load members %s: %w", t.ID, err)
	}
	current := make(map[string]bool, len(active))
	for _, m := range active {
		current[m.FounderID] = true
	}
	desired := make(map[string]bool, len(u.Members))
	for _, m := range u.Members {
		desired[m.FounderID] = true
	}

	for _, m := range active {
		if desired[m.FounderID] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE theme_members SET active = 0, left_at = ? WHERE id = ?", at, m.ID); err != nil {
			return fmt.Errorf("close membership %s/%s: %w", t.ID, m.FounderID, err)
		}
	}
	for _, m := range u.Members {
		if current[m.FounderID] {
			if _, err := tx.ExecContext(ctx,
				"UPDATE theme_members SET similarity = ? WHERE theme_id = ? AND founder_id = ? AND active = 1",
				m.Similarity, t.ID, m.FounderID); err != nil {
				return fmt.Errorf("update membership %s/%s: %w", t.ID, m.FounderID, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO theme_members (theme_id, founder_id, similarity, active, joined_at)
			VALUES (?, ?, ?, 1, ?)
		`, t.ID, m.FounderID, m.Similarity, at); err != nil {
			return fmt.Errorf("add membership %s/%s: %w", t.ID, m.FounderID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO theme_history (theme_id, builder_count, emergence_score, captured_at) VALUES (?, ?, ?, ?)
	`, t.ID, t.BuilderCount, t.EmergenceScore, at); err != nil {
		return fmt.Errorf("append theme history %s: %w", t.ID, err)
	}
	return nil
}

// encodeVector packs float64s little-endian. A nil vector encodes as nil.
func encodeVector(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	if len(b)%8 != 0 {
		return nil
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v
}
