package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/source"
)

const (
	textKindRepo = "repo"
	textKindPost = "post"

	// signalDedupWindow suppresses a repeated signal label for one founder.
	signalDedupWindow = 24 * time.Hour
)

// RecordObservations merges collector output into the founder tables in one
// transaction and returns how many founders were touched. Founders are keyed
// by handle; empty fields never overwrite stored ones and facts the
// observation does not carry keep their stored value.
func (s *SQLiteStore) RecordObservations(ctx context.Context, obs []source.Observation, now time.Time) (int, error) {
	now = now.UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	touched := make(map[string]bool)
	for i := range obs {
		o := &obs[i]
		if o.Handle == "" {
			continue
		}
		id, err := upsertFounder(ctx, tx, o, now)
		if err != nil {
			return 0, err
		}
		touched[id] = true

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO founder_sources (founder_id, source, source_id, profile_url)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(founder_id, source) DO UPDATE SET
				source_id = excluded.source_id,
				profile_url = excluded.profile_url
		`, id, o.Source, o.SourceID, o.ProfileURL); err != nil {
			return 0, fmt.Errorf("upsert source %s: %w", o.Handle, err)
		}

		if err := upsertFacts(ctx, tx, id, o.Facts, now); err != nil {
			return 0, err
		}
		if err := upsertTexts(ctx, tx, id, textKindRepo, o.Repos); err != nil {
			return 0, err
		}
		if err := upsertTexts(ctx, tx, id, textKindPost, o.Posts); err != nil {
			return 0, err
		}
		for _, sig := range o.Signals {
			if err := addSignal(ctx, tx, id, o.Source, sig, now); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit record: %w", err)
	}
	return len(touched), nil
}

func upsertFounder(ctx context.Context, tx *sqlx.Tx, o *source.Observation, now time.Time) (string, error) {
	active := o.ActiveAt.UTC()
	if o.ActiveAt.IsZero() {
		active = now
	}

	var cur struct {
		ID           string    `db:"id"`
		LastActiveAt time.Time `db:"last_active_at"`
	}
	err := tx.GetContext(ctx, &cur, "SELECT id, last_active_at FROM founders WHERE handle = ?", o.Handle)
	if errors.Is(err, sql.ErrNoRows) {
		id := uuid.NewString()
		name := o.Name
		if name == "" {
			name = strings.TrimPrefix(o.Handle, "@")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO founders (id, handle, name, company, bio, location, funding_stage,
				incubator, incubator_batch, incubator_phase, last_active_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, o.Handle, name, o.Company, o.Bio, o.Location, o.FundingStage,
			o.Incubator.Program, o.Incubator.Batch, o.Incubator.Phase, active, now, now)
		if err != nil {
			return "", fmt.Errorf("insert founder %s: %w", o.Handle, err)
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup founder %s: %w", o.Handle, err)
	}

	if cur.LastActiveAt.After(active) {
		active = cur.LastActiveAt
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE founders SET
			name = COALESCE(NULLIF(?, ''), name),
			company = COALESCE(NULLIF(?, ''), company),
			bio = COALESCE(NULLIF(?, ''), bio),
			location = COALESCE(NULLIF(?, ''), location),
			funding_stage = COALESCE(NULLIF(?, ''), funding_stage),
			incubator = COALESCE(NULLIF(?, ''), incubator),
			incubator_batch = COALESCE(NULLIF(?, ''), incubator_batch),
			incubator_phase = COALESCE(NULLIF(?, ''), incubator_phase),
			last_active_at = ?,
			updated_at = ?
		WHERE id = ?
	`, o.Name, o.Company, o.Bio, o.Location, o.FundingStage,
		o.Incubator.Program, o.Incubator.Batch, o.Incubator.Phase, active, now, cur.ID)
	if err != nil {
		return "", fmt.Errorf("update founder %s: %w", o.Handle, err)
	}
	return cur.ID, nil
}

func upsertFacts(ctx context.Context, tx *sqlx.Tx, founderID string, facts score.Facts, now time.Time) error {
	for f := range facts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO founder_facts (founder_id, fact, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(founder_id, fact) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, founderID, f, facts.Get(f), now); err != nil {
			return fmt.Errorf("upsert fact %s for %s: %w", f, founderID, err)
		}
	}
	return nil
}

func upsertTexts(ctx context.Context, tx *sqlx.Tx, founderID, kind string, texts []embed.WeightedText) error {
	for _, t := range texts {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO founder_texts (founder_id, kind, text, weight)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(founder_id, kind, text) DO UPDATE SET weight = excluded.weight
		`, founderID, kind, text, t.Weight); err != nil {
			return fmt.Errorf("upsert %s text for %s: %w", kind, founderID, err)
		}
	}
	return nil
}

func addSignal(ctx context.Context, tx *sqlx.Tx, founderID string, src source.SourceType, sig source.Signal, now time.Time) error {
	var n int
	if err := tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM signals WHERE founder_id = ? AND label = ? AND detected_at > ?
	`, founderID, sig.Label, now.Add(-signalDedupWindow)); err != nil {
		return fmt.Errorf("check signal for %s: %w", founderID, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO signals (founder_id, source, label, url, strong, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, founderID, src, sig.Label, sig.URL, sig.Strong, now); err != nil {
		return fmt.Errorf("insert signal for %s: %w", founderID, err)
	}
	return nil
}

// ApplyEnrichment writes facts found by enrichers and stamps enriched_at, even
// when facts is empty, so the gate does not retry immediately.
func (s *SQLiteStore) ApplyEnrichment(ctx context.Context, founderID string, facts score.Facts, at time.Time) error {
	at = at.UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE founders SET enriched_at = ?, updated_at = ? WHERE id = ?", at, at, founderID)
	if err != nil {
		return fmt.Errorf("stamp enrichment %s: %w", founderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("enrich founder %s: %w", founderID, ErrNotFound)
	}
	if err := upsertFacts(ctx, tx, founderID, facts, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFounder(ctx context.Context, id string) (*Founder, error) {
	var f Founder
	err := s.db.GetContext(ctx, &f, "SELECT * FROM founders WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get founder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get founder %s: %w", id, err)
	}

	facts, err := loadFacts(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	f.Facts = facts[id]
	f.fill()
	return &f, nil
}

func (s *SQLiteStore) ListFounders(ctx context.Context, opts FounderListOpts) ([]Founder, error) {
	query := "SELECT * FROM founders WHERE 1=1"
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.MinComposite > 0 {
		query += " AND composite >= ?"
		args = append(args, opts.MinComposite)
	}

	query += " ORDER BY composite DESC, id"

	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var founders []Founder
	if err := s.db.SelectContext(ctx, &founders, query, args...); err != nil {
		return nil, fmt.Errorf("list founders: %w", err)
	}

	ids := make([]string, len(founders))
	for i := range founders {
		ids[i] = founders[i].ID
	}
	facts, err := loadFacts(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range founders {
		founders[i].Facts = facts[founders[i].ID]
		founders[i].fill()
	}
	return founders, nil
}

func (s *SQLiteStore) UpdateFounder(ctx context.Context, id string, upd FounderUpdate) (*Founder, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if upd.Status != nil {
		if _, err := ParseFounderStatus(string(*upd.Status)); err != nil {
			return nil, err
		}
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *upd.Notes)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE founders SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update founder %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update founder %s: %w", id, ErrNotFound)
	}
	return s.GetFounder(ctx, id)
}

func (s *SQLiteStore) ListSignals(ctx context.Context, founderID string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	var sigs []Signal
	err := s.db.SelectContext(ctx, &sigs,
		"SELECT * FROM signals WHERE founder_id = ? ORDER BY detected_at DESC, id DESC LIMIT ?",
		founderID, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals %s: %w", founderID, err)
	}
	return sigs, nil
}

// loadFacts returns the current facts for the given founders. A nil ids
// slice loads every founder.
func loadFacts(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string]score.Facts, error) {
	out := make(map[string]score.Facts)
	if ids != nil && len(ids) == 0 {
		return out, nil
	}

	query := "SELECT founder_id, fact, value FROM founder_facts"
	var args []any
	if ids != nil {
		var err error
		query, args, err = sqlx.In(query+" WHERE founder_id IN (?)", ids)
		if err != nil {
			return nil, fmt.Errorf("build facts query: %w", err)
		}
	}

	var rows []struct {
		FounderID string  `db:"founder_id"`
		Fact      string  `db:"fact"`
		Value     float64 `db:"value"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	for _, r := range rows {
		fs, ok := out[r.FounderID]
		if !ok {
			fs = score.Facts{}
			out[r.FounderID] = fs
		}
		fs[score.Fact(r.Fact)] = r.Value
	}
	return out, nil
}
