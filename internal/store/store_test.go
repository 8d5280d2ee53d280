package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/source"
	"github.com/elonfeng/scout/pkg/theme"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFounders(t *testing.T, s *SQLiteStore, handles ...string) map[string]string {
	t.Helper()
	ctx := context.Background()
	var obs []source.Observation
	for _, h := range handles {
		obs = append(obs, source.Observation{
			Source:   source.SourceGitHub,
			Handle:   h,
			Bio:      "building " + h,
			Facts:    score.Facts{score.FactGitHubStars: 100},
			ActiveAt: t0,
		})
	}
	if _, err := s.RecordObservations(ctx, obs, t0); err != nil {
		t.Fatalf("RecordObservations: %v", err)
	}
	founders, err := s.ListFounders(ctx, FounderListOpts{})
	if err != nil {
		t.Fatalf("ListFounders: %v", err)
	}
	ids := make(map[string]string)
	for _, f := range founders {
		ids[f.Handle] = f.ID
	}
	return ids
}

func TestRecordObservationsMergesSources(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	gh := source.Observation{
		Source:   source.SourceGitHub,
		Handle:   "@alice",
		Name:     "Alice",
		Bio:      "ex-Stripe, building voice agents",
		Facts:    score.Facts{score.FactGitHubStars: 620, score.FactFollowers: 120},
		Repos:    []embed.WeightedText{{Text: "Voice agents for clinics", Weight: 600}},
		Signals:  []source.Signal{{Label: "agent: 600 stars", Strong: true}},
		ActiveAt: t0,
	}
	hn := source.Observation{
		Source:   source.SourceHackerNews,
		Handle:   "@alice",
		Facts:    score.Facts{score.FactHNKarma: 1500},
		Posts:    []embed.WeightedText{{Text: "Show HN: Clinic voice agent", Weight: 250}},
		Signals:  []source.Signal{{Label: "agent: 600 stars"}},
		ActiveAt: t0.Add(-48 * time.Hour),
	}
	n, err := s.RecordObservations(ctx, []source.Observation{gh, hn, {Handle: ""}}, t0)
	if err != nil {
		t.Fatalf("RecordObservations: %v", err)
	}
	if n != 1 {
		t.Fatalf("touched %d founders, want 1", n)
	}

	founders, err := s.ListFounders(ctx, FounderListOpts{})
	if err != nil || len(founders) != 1 {
		t.Fatalf("ListFounders = %d, %v", len(founders), err)
	}
	f := founders[0]
	if f.Name != "Alice" || f.Bio != "ex-Stripe, building voice agents" {
		t.Errorf("empty fields overwrote stored ones: %+v", f)
	}
	if f.Facts[score.FactGitHubStars] != 620 || f.Facts[score.FactHNKarma] != 1500 {
		t.Errorf("facts = %v", f.Facts)
	}
	if !f.LastActiveAt.Equal(t0) {
		t.Errorf("last active = %v, want the later of both sources", f.LastActiveAt)
	}
	if f.Status != StatusToContact {
		t.Errorf("status = %q", f.Status)
	}

	sigs, err := s.ListSignals(ctx, f.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 1 {
		t.Errorf("got %d signals, want repeated label suppressed", len(sigs))
	}

	st, err := s.LoadCycleState(ctx, LoadOpts{})
	if err != nil {
		t.Fatal(err)
	}
	texts := st.Texts[f.ID]
	if len(texts.Repos) != 1 || len(texts.Posts) != 1 {
		t.Errorf("texts = %+v", texts)
	}
}

func TestUpdateFounder(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	id := seedFounders(t, s, "@bob")["@bob"]

	watching := StatusWatching
	notes := "met at demo day"
	f, err := s.UpdateFounder(ctx, id, FounderUpdate{Status: &watching, Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateFounder: %v", err)
	}
	if f.Status != StatusWatching || f.Notes != notes {
		t.Errorf("founder = %+v", f)
	}

	bad := FounderStatus("hired")
	if _, err := s.UpdateFounder(ctx, id, FounderUpdate{Status: &bad}); err == nil {
		t.Error("expected invalid status error")
	}
	if _, err := s.UpdateFounder(ctx, "missing", FounderUpdate{Notes: &notes}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetFounder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyEnrichment(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	id := seedFounders(t, s, "@carol")["@carol"]

	if err := s.ApplyEnrichment(ctx, id, score.Facts{score.FactCommits90d: 340}, t0); err != nil {
		t.Fatalf("ApplyEnrichment: %v", err)
	}
	f, err := s.GetFounder(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if f.EnrichedAt == nil || !f.EnrichedAt.Equal(t0) {
		t.Errorf("enriched at = %v", f.EnrichedAt)
	}
	if f.Facts[score.FactCommits90d] != 340 || f.Facts[score.FactGitHubStars] != 100 {
		t.Errorf("facts = %v", f.Facts)
	}
	if err := s.ApplyEnrichment(ctx, "missing", nil, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCommitCycleRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	ids := seedFounders(t, s, "@a", "@b", "@c")
	a, b, c := ids["@a"], ids["@b"], ids["@c"]

	vec := score.Vector{80, 70, 60, 50, 40}
	commit := &CycleCommit{
		At: t0,
		Scores: []FounderScore{
			{FounderID: a, Dimensions: vec, Composite: 66, Facts: score.Facts{score.FactGitHubStars: 100}},
		},
		Embeddings: map[string]embed.Cached{
			a: {Hash: "h-a", Vector: []float64{1, 0, 0.5}},
		},
		Themes: []ThemeUpdate{{
			Theme: Theme{ID: "t1", Name: "Clinic voice agents", Centroid: []float64{0.5, 0.25}, EmergenceScore: 0.4},
			Members: []ThemeMember{
				{FounderID: a, Similarity: 0.9},
				{FounderID: b, Similarity: 0.8},
				{FounderID: c, Similarity: 0.7},
			},
		}},
		Events: []anomaly.Event{{
			ID: "e1", Type: anomaly.NewTheme, EntityType: anomaly.EntityTheme, EntityID: "t1",
			After: 3, Confidence: 0.5, Status: anomaly.StatusNew, DetectedAt: t0,
		}},
	}
	if err := s.CommitCycle(ctx, commit); err != nil {
		t.Fatalf("CommitCycle: %v", err)
	}

	f, err := s.GetFounder(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if f.Composite != 66 || f.Dimensions != vec || f.ScoredAt == nil {
		t.Errorf("founder score = %d %v %v", f.Composite, f.Dimensions, f.ScoredAt)
	}

	st, err := s.LoadCycleState(ctx, LoadOpts{WeekAgo: t0.Add(time.Hour), OpenSince: t0.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("LoadCycleState: %v", err)
	}
	if len(st.Founders) != 3 {
		t.Errorf("founders = %d", len(st.Founders))
	}
	prev, ok := st.Previous[a]
	if !ok || prev.Composite != 66 || prev.Facts[score.FactGitHubStars] != 100 {
		t.Errorf("previous snapshot = %+v", prev)
	}
	if _, ok := st.Previous[b]; ok {
		t.Error("unscored founder should have no snapshot")
	}
	if got := st.Embeddings[a]; got.Hash != "h-a" || len(got.Vector) != 3 || got.Vector[2] != 0.5 {
		t.Errorf("embedding = %+v", got)
	}
	if len(st.Themes) != 1 || len(st.Themes[0].Members) != 3 {
		t.Fatalf("themes = %+v", st.Themes)
	}
	th := st.Themes[0]
	if th.Stage != theme.Nascent || th.BuilderCount != 3 || th.Centroid[1] != 0.25 {
		t.Errorf("theme = %+v", th)
	}
	if st.WeekAgo["t1"] != 3 {
		t.Errorf("week-ago builders = %d", st.WeekAgo["t1"])
	}
	if len(st.OpenEvents) != 1 || st.OpenEvents[0].ID != "e1" {
		t.Errorf("open events = %+v", st.OpenEvents)
	}
}

func TestCommitCycleReconcilesMembers(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	ids := seedFounders(t, s, "@a", "@b", "@c", "@d")

	first := &CycleCommit{At: t0, Themes: []ThemeUpdate{{
		Theme: Theme{ID: "t1", Name: "Robotics"},
		Members: []ThemeMember{
			{FounderID: ids["@a"], Similarity: 0.9},
			{FounderID: ids["@b"], Similarity: 0.8},
			{FounderID: ids["@c"], Similarity: 0.7},
		},
	}}}
	if err := s.CommitCycle(ctx, first); err != nil {
		t.Fatal(err)
	}

	later := t0.Add(24 * time.Hour)
	second := &CycleCommit{At: later, Themes: []ThemeUpdate{{
		Theme: Theme{ID: "t1", Name: "Robotics", FirstDetected: t0, Stage: theme.Emerging},
		Members: []ThemeMember{
			{FounderID: ids["@a"], Similarity: 0.95},
			{FounderID: ids["@b"], Similarity: 0.8},
			{FounderID: ids["@d"], Similarity: 0.75},
		},
	}}}
	if err := s.CommitCycle(ctx, second); err != nil {
		t.Fatal(err)
	}

	th, err := s.GetTheme(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Members) != 4 {
		t.Fatalf("memberships = %d, want 4 (one closed)", len(th.Members))
	}
	var active int
	for _, m := range th.Members {
		if m.Active {
			active++
			continue
		}
		if m.FounderID != ids["@c"] || m.LeftAt == nil || !m.LeftAt.Equal(later) {
			t.Errorf("closed membership = %+v", m)
		}
	}
	if active != 3 || th.BuilderCount != 3 || th.Stage != theme.Emerging {
		t.Errorf("active = %d, theme = %+v", active, th)
	}
	if th.Members[0].FounderID != ids["@a"] || th.Members[0].Similarity != 0.95 {
		t.Errorf("top member = %+v", th.Members[0])
	}
	if !th.FirstDetected.Equal(t0) {
		t.Errorf("first detected = %v", th.FirstDetected)
	}

	if _, err := s.GetTheme(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCommitCycleIsAtomic(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	id := seedFounders(t, s, "@a")["@a"]

	bad := &CycleCommit{
		At:     t0,
		Scores: []FounderScore{{FounderID: id, Composite: 90}},
		Events: []anomaly.Event{{ID: "e1", Type: anomaly.StarSpike, EntityType: "company", EntityID: id, DetectedAt: t0, Status: anomaly.StatusNew}},
	}
	if err := s.CommitCycle(ctx, bad); err == nil {
		t.Fatal("expected constraint error")
	}
	f, err := s.GetFounder(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if f.Composite != 0 || f.ScoredAt != nil {
		t.Errorf("partial commit leaked: composite %d", f.Composite)
	}
}

func TestEvents(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	id := seedFounders(t, s, "@a")["@a"]

	commit := &CycleCommit{At: t0, Events: []anomaly.Event{
		{ID: "e1", Type: anomaly.StarSpike, EntityType: anomaly.EntityFounder, EntityID: id, Before: 100, After: 400, Confidence: 0.8, Status: anomaly.StatusNew, DetectedAt: t0},
		{ID: "e2", Type: anomaly.CommitSpike, EntityType: anomaly.EntityFounder, EntityID: id, Before: 10, After: 90, Confidence: 0.6, Status: anomaly.StatusNew, DetectedAt: t0.Add(time.Hour)},
	}}
	if err := s.CommitCycle(ctx, commit); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListEvents(ctx, EventListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "e2" {
		t.Fatalf("events = %+v, want newest first", all)
	}

	e, err := s.UpdateEventStatus(ctx, "e1", anomaly.StatusInvestigating)
	if err != nil {
		t.Fatalf("UpdateEventStatus: %v", err)
	}
	if e.Status != anomaly.StatusInvestigating || e.Before != 100 || e.After != 400 {
		t.Errorf("event = %+v", e)
	}

	open, err := s.ListEvents(ctx, EventListOpts{Status: anomaly.StatusNew})
	if err != nil || len(open) != 1 || open[0].ID != "e2" {
		t.Errorf("open events = %+v, %v", open, err)
	}
	stars, err := s.ListEvents(ctx, EventListOpts{Type: anomaly.StarSpike})
	if err != nil || len(stars) != 1 {
		t.Errorf("star events = %+v, %v", stars, err)
	}

	if _, err := s.UpdateEventStatus(ctx, "missing", anomaly.StatusNoted); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateEventStatus(ctx, "e1", "dismissed"); err == nil {
		t.Error("expected invalid status error")
	}
}

func TestVectorEncoding(t *testing.T) {
	v := []float64{0, -1.5, 3.25, 1e-9}
	got := decodeVector(encodeVector(v))
	if len(got) != len(v) {
		t.Fatalf("len = %d", len(got))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("v[%d] = %v, want %v", i, got[i], v[i])
		}
	}
	if encodeVector(nil) != nil || decodeVector([]byte{1, 2, 3}) != nil {
		t.Error("empty and malformed vectors should be nil")
	}
}
