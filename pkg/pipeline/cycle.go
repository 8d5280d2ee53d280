package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/elonfeng/scout/internal/store"
	"github.com/elonfeng/scout/pkg/alert"
	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/cluster"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/theme"
)

type crossing struct {
	founderID     string
	before, after int
}

// cycle holds the working state of one RunCycle call.
type cycle struct {
	engine *Engine
	state  *store.CycleState
	now    time.Time
	logger *log.Logger

	founders  map[string]*store.Founder
	composite map[string]int
	crossings []crossing
	newThemes map[string]bool
}

func (c *cycle) scoreFounders(commit *store.CycleCommit) {
	c.founders = make(map[string]*store.Founder, len(c.state.Founders))
	c.composite = make(map[string]int, len(c.state.Founders))
	th := c.engine.alertThreshold

	for i := range c.state.Founders {
		f := &c.state.Founders[i]
		c.founders[f.ID] = f

		p := f.Profile()
		if !p.Incubator.Affiliated() {
			p.Incubator = score.DetectIncubator(append([]string{f.Bio}, c.state.Signals[f.ID]...)...)
		}
		p.Incubator.Phase = p.Incubator.PhaseAt(c.now)

		vec := score.ScoreAll(p)
		comp, err := score.Composite(vec, c.engine.weights)
		if err != nil {
			c.logger.Warn("composite skipped", "founder_id", f.ID, "err", err)
			continue
		}
		c.composite[f.ID] = comp

		if comp >= th && (f.ScoredAt == nil || f.Composite < th) {
			c.crossings = append(c.crossings, crossing{founderID: f.ID, before: f.Composite, after: comp})
		}
		commit.Scores = append(commit.Scores, store.FounderScore{
			FounderID:  f.ID,
			Dimensions: vec,
			Composite:  comp,
			Facts:      f.Facts.Clone(),
		})
	}
}

func (c *cycle) embedProfiles() []embed.Profile {
	profiles := make([]embed.Profile, 0, len(c.state.Founders))
	for _, f := range c.state.Founders {
		texts := c.state.Texts[f.ID]
		profiles = append(profiles, embed.Profile{
			FounderID:        f.ID,
			Bio:              f.Bio,
			RepoDescriptions: texts.Repos,
			PostTitles:       texts.Posts,
		})
	}
	return profiles
}

// clusterThemes clusters the embedded founders and turns the result into
// theme updates. When clustering cannot run, no theme changes and skipped
// is true.
func (c *cycle) clusterThemes(ctx context.Context, emb embed.Result) (updates []store.ThemeUpdate, skipped bool) {
	c.newThemes = make(map[string]bool)

	points := make([]cluster.Point, 0, len(emb.Vectors))
	for _, f := range c.state.Founders {
		if v, ok := emb.Vectors[f.ID]; ok {
			points = append(points, cluster.Point{ID: f.ID, Vector: v, ActiveAt: f.LastActiveAt})
		}
	}
	priors := make([]cluster.Prior, 0, len(c.state.Themes))
	for i := range c.state.Themes {
		t := &c.state.Themes[i]
		priors = append(priors, cluster.Prior{ThemeID: t.ID, Members: t.MemberIDs()})
	}

	res, err := cluster.Detect(points, priors, c.engine.clusterParams, c.now)
	if err != nil {
		if errors.Is(err, cluster.ErrInsufficientData) {
			c.logger.Info("clustering skipped", "points", len(points), "reason", err)
		} else {
			c.logger.Warn("clustering failed", "err", err)
		}
		return nil, true
	}

	failed := make(map[string]bool, len(emb.Failed))
	for _, id := range emb.Failed {
		failed[id] = true
	}
	priorByID := make(map[string]*store.Theme, len(c.state.Themes))
	for i := range c.state.Themes {
		priorByID[c.state.Themes[i].ID] = &c.state.Themes[i]
	}

	continued := make(map[string]bool)
	for _, cl := range res.Clusters {
		prior := priorByID[cl.ThemeID]
		u := store.ThemeUpdate{}
		if prior != nil {
			continued[prior.ID] = true
			u.Theme = *prior
		} else {
			u.Theme = store.Theme{ID: uuid.NewString(), FirstDetected: c.now}
			c.newThemes[u.Theme.ID] = true
		}
		u.Theme.Centroid = cl.Centroid
		u.Theme.Density = cl.Density
		for _, m := range cl.Members {
			u.Members = append(u.Members, store.ThemeMember{FounderID: m.FounderID, Similarity: m.Similarity})
		}
		if prior != nil {
			u.Members = append(u.Members, keptMembers(prior, failed)...)
		}
		updates = append(updates, u)
	}

	// Themes no cluster continued lose the members that were re-clustered
	// elsewhere or fell out; founders without a vector this cycle stay.
	for i := range c.state.Themes {
		prior := &c.state.Themes[i]
		if continued[prior.ID] || len(prior.Members) == 0 {
			continue
		}
		updates = append(updates, store.ThemeUpdate{Theme: *prior, Members: keptMembers(prior, failed)})
	}

	for i := range updates {
		c.scoreTheme(ctx, &updates[i])
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Theme.ID < updates[j].Theme.ID })
	return updates, false
}

func keptMembers(prior *store.Theme, failed map[string]bool) []store.ThemeMember {
	var out []store.ThemeMember
	for _, m := range prior.Members {
		if failed[m.FounderID] {
			out = append(out, store.ThemeMember{FounderID: m.FounderID, Similarity: m.Similarity})
		}
	}
	return out
}

func (c *cycle) themeMembers(members []store.ThemeMember) []theme.Member {
	out := make([]theme.Member, 0, len(members))
	for _, m := range members {
		f, ok := c.founders[m.FounderID]
		if !ok {
			continue
		}
		texts := c.state.Texts[f.ID]
		var ts []string
		for _, t := range texts.Repos {
			ts = append(ts, t.Text)
		}
		for _, t := range texts.Posts {
			ts = append(ts, t.Text)
		}
		out = append(out, theme.Member{
			FounderID: f.ID,
			Company:   f.Company,
			Location:  f.Location,
			Bio:       f.Bio,
			Composite: c.composite[f.ID],
			Texts:     ts,
			Signals:   c.state.Signals[f.ID],
		})
	}
	return out
}

func (c *cycle) scoreTheme(ctx context.Context, u *store.ThemeUpdate) {
	t := &u.Theme
	members := c.themeMembers(u.Members)
	n := len(u.Members)
	week := c.state.WeekAgo[t.ID]

	t.EmergenceScore, _ = theme.Score(theme.Input{Density: t.Density, WeekAgoBuilders: week, Members: members}, c.engine.themeWeights)
	t.WeeklyVelocity = 0
	if n > 0 {
		t.WeeklyVelocity = float64(n-week) / float64(n)
	}
	target := c.engine.lifecycle.Target(n, theme.PressMentions(members))
	t.Stage, t.StageStrikes = c.engine.lifecycle.Advance(t.Stage, t.StageStrikes, target)

	if !c.newThemes[t.ID] {
		return
	}
	label, err := theme.Describe(ctx, c.engine.summarizer, members)
	if err != nil {
		c.logger.Warn("theme summarizer failed, using placeholder", "theme_id", t.ID, "err", err)
	}
	t.Name, t.Pain, t.Unlock, t.Origin = label.Name, label.Pain, label.Unlock, label.Origin
}

func (c *cycle) previousSnapshot() anomaly.Snapshot {
	prev := anomaly.Snapshot{
		Founders: c.state.Previous,
		Themes:   make(map[string]anomaly.ThemeSnapshot, len(c.state.Themes)),
	}
	for _, t := range c.state.Themes {
		prev.Themes[t.ID] = anomaly.ThemeSnapshot{ThemeID: t.ID, Name: t.Name, Members: t.MemberIDs()}
	}
	return prev
}

func (c *cycle) currentSnapshot(updates []store.ThemeUpdate, skipped bool) anomaly.Snapshot {
	cur := anomaly.Snapshot{
		TakenAt:  c.now,
		Founders: make(map[string]anomaly.FounderSnapshot, len(c.composite)),
		Themes:   make(map[string]anomaly.ThemeSnapshot),
	}
	for id, comp := range c.composite {
		cur.Founders[id] = anomaly.FounderSnapshot{
			FounderID:  id,
			Facts:      c.founders[id].Facts,
			Composite:  comp,
			CapturedAt: c.now,
		}
	}

	if skipped {
		// Themes are unchanged, so the previous view is also the current one.
		for _, t := range c.state.Themes {
			cur.Themes[t.ID] = anomaly.ThemeSnapshot{ThemeID: t.ID, Name: t.Name, Members: t.MemberIDs()}
		}
		return cur
	}
	for _, u := range updates {
		ids := make([]string, len(u.Members))
		for i, m := range u.Members {
			ids[i] = m.FounderID
		}
		cur.Themes[u.Theme.ID] = anomaly.ThemeSnapshot{
			ThemeID:         u.Theme.ID,
			Name:            u.Theme.Name,
			Members:         ids,
			WeekAgoBuilders: c.state.WeekAgo[u.Theme.ID],
		}
	}
	return cur
}

// sendAlerts notifies about new events and score crossings after a
// successful commit. Delivery failures are logged, never returned.
func (c *cycle) sendAlerts(ctx context.Context, events []anomaly.Event, updates []store.ThemeUpdate) int {
	if !c.engine.alerts.HasNotifiers() {
		return 0
	}
	themeNames := make(map[string]string)
	for _, t := range c.state.Themes {
		themeNames[t.ID] = t.Name
	}
	for _, u := range updates {
		themeNames[u.Theme.ID] = u.Theme.Name
	}

	var notes []*alert.Notification
	for _, e := range events {
		name := themeNames[e.EntityID]
		if e.EntityType == anomaly.EntityFounder {
			if f, ok := c.founders[e.EntityID]; ok {
				name = f.Name
			}
		}
		notes = append(notes, alert.FromEvent(e, name))
	}
	for _, x := range c.crossings {
		notes = append(notes, alert.ScoreCrossing(x.founderID, c.founders[x.founderID].Name, x.before, x.after, c.engine.alertThreshold, c.now))
	}

	sent := 0
	for _, n := range notes {
		if err := c.engine.alerts.Broadcast(ctx, n); err != nil {
			c.logger.Warn("alert delivery failed", "title", n.Title, "err", err)
			continue
		}
		sent++
	}
	return sent
}
