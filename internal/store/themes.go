package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/scout/pkg/anomaly"
)

func (s *SQLiteStore) ListThemes(ctx context.Context, opts ThemeListOpts) ([]Theme, error) {
	return listThemes(ctx, s.db, opts)
}

// listThemes returns themes ordered by emergence score with their active
// members. A negative limit means no limit.
func listThemes(ctx context.Context, q sqlx.QueryerContext, opts ThemeListOpts) ([]Theme, error) {
	query := "SELECT * FROM themes"
	var args []any
	if opts.Stage != "" {
		query += " WHERE stage = ?"
		args = append(args, opts.Stage)
	}
	query += " ORDER BY emergence_score DESC, id"

	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var themes []Theme
	if err := sqlx.SelectContext(ctx, q, &themes, query, args...); err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	if len(themes) == 0 {
		return themes, nil
	}

	ids := make([]string, len(themes))
	for i := range themes {
		ids[i] = themes[i].ID
	}
	mq, margs, err := sqlx.In(`
		SELECT * FROM theme_members WHERE active = 1 AND theme_id IN (?)
		ORDER BY theme_id, similarity DESC, founder_id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}
	var members []ThemeMember
	if err := sqlx.SelectContext(ctx, q, &members, mq, margs...); err != nil {
		return nil, fmt.Errorf("list theme members: %w", err)
	}
	byTheme := make(map[string][]ThemeMember, len(themes))
	for _, m := range members {
		byTheme[m.ThemeID] = append(byTheme[m.ThemeID], m)
	}
	for i := range themes {
		themes[i].Members = byTheme[themes[i].ID]
		themes[i].Centroid = decodeVector(themes[i].CentroidBlob)
	}
	return themes, nil
}

// GetTheme returns a theme with every membership it ever had, active ones first.
func (s *SQLiteStore) GetTheme(ctx context.Context, id string) (*Theme, error) {
	var t Theme
	err := s.db.GetContext(ctx, &t, "SELECT * FROM themes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get theme %s: %w", id, err)
	}
	if err := s.db.SelectContext(ctx, &t.Members, `
		SELECT * FROM theme_members WHERE theme_id = ?
		ORDER BY active DESC, similarity DESC, founder_id, id
	`, id); err != nil {
		return nil, fmt.Errorf("get theme members %s: %w", id, err)
	}
	t.Centroid = decodeVector(t.CentroidBlob)
	return &t, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, opts EventListOpts) ([]anomaly.Event, error) {
	var where []string
	var args []any
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}
	if !opts.Since.IsZero() {
		where = append(where, "detected_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	query := "SELECT * FROM emergence_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at DESC, id LIMIT ?"
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	var events []anomaly.Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// UpdateEventStatus changes only the review status; the compared values of
// an event never change after it is recorded.
func (s *SQLiteStore) UpdateEventStatus(ctx context.Context, id string, status anomaly.Status) (*anomaly.Event, error) {
	if _, err := anomaly.ParseStatus(string(status)); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE emergence_events SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return nil, fmt.Errorf("update event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	var e anomaly.Event
	if err := s.db.GetContext(ctx, &e, "SELECT * FROM emergence_events WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &e, nil
}
