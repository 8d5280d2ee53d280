package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/elonfeng/scout/pkg/cluster"
	"github.com/elonfeng/scout/pkg/score"
)

// Thresholds are the literal rule constants. All are configurable.
type Thresholds struct {
	CommitMultiplier float64       `yaml:"commit_multiplier"`
	CommitFloor      float64       `yaml:"commit_floor"`
	StarDelta        float64       `yaml:"star_delta"`
	StarWindow       time.Duration `yaml:"star_window"`
	StarBaseline     float64       `yaml:"star_baseline"`
	HNScore          float64       `yaml:"hn_score"`
	ScoreDelta       float64       `yaml:"score_delta"`
	ThemeGrowth      float64       `yaml:"theme_growth"`
	MinClusterSize   int           `yaml:"min_cluster_size"`
	Cooldown         time.Duration `yaml:"cooldown"`
	NewThemeCooldown time.Duration `yaml:"new_theme_cooldown"`
}

// DefaultThresholds returns the stock rule constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CommitMultiplier: 2,
		CommitFloor:      5,
		StarDelta:        15,
		StarWindow:       24 * time.Hour,
		StarBaseline:     100,
		HNScore:          100,
		ScoreDelta:       15,
		ThemeGrowth:      0.5,
		MinClusterSize:   3,
		Cooldown:         24 * time.Hour,
		NewThemeCooldown: 72 * time.Hour,
	}
}

// FounderSnapshot is a founder's raw facts and composite at one moment.
type FounderSnapshot struct {
	FounderID  string
	Facts      score.Facts
	Composite  int
	CapturedAt time.Time
}

// ThemeSnapshot is a theme's active membership at one moment.
// WeekAgoBuilders is the builder count recorded about seven days earlier,
// or zero when no history reaches that far back.
type ThemeSnapshot struct {
	ThemeID         string
	Name            string
	Members         []string
	WeekAgoBuilders int
}

// Snapshot is the full state compared between cycles.
type Snapshot struct {
	TakenAt  time.Time
	Founders map[string]FounderSnapshot
	Themes   map[string]ThemeSnapshot
}

// Detect compares cur against prev and returns every rule that fired, sorted
// by type and entity. Founders absent from prev are skipped. Neither snapshot
// is modified.
func Detect(cur, prev Snapshot, th Thresholds) []Event {
	var events []Event

	ids := sortedKeys(cur.Founders)
	for _, id := range ids {
		before, ok := prev.Founders[id]
		if !ok {
			continue
		}
		events = append(events, detectFounder(cur.Founders[id], before, th)...)
	}

	events = append(events, detectThemes(cur, prev, th)...)

	for i := range events {
		events[i].Status = StatusNew
		if events[i].DetectedAt.IsZero() {
			events[i].DetectedAt = cur.TakenAt
		}
	}
	sortEvents(events)
	return events
}

func detectFounder(now, prev FounderSnapshot, th Thresholds) []Event {
	var out []Event
	ev := func(t EventType, before, after, conf float64, detail string) {
		out = append(out, Event{
			Type:       t,
			EntityType: EntityFounder,
			EntityID:   now.FounderID,
			Before:     before,
			After:      after,
			Confidence: conf,
			Detail:     detail,
			DetectedAt: now.CapturedAt,
		})
	}

	commitsPrev, commitsNow := prev.Facts.Get(score.FactCommits90d), now.Facts.Get(score.FactCommits90d)
	if commitsNow >= th.CommitMultiplier*commitsPrev && commitsNow >= th.CommitFloor {
		need := math.Max(th.CommitMultiplier*commitsPrev, th.CommitFloor)
		ev(CommitSpike, commitsPrev, commitsNow, confidence(commitsNow, need),
			fmt.Sprintf("commits in 90 days went from %.0f to %.0f", commitsPrev, commitsNow))
	}

	starsPrev, starsNow := prev.Facts.Get(score.FactGitHubStars), now.Facts.Get(score.FactGitHubStars)
	elapsed := now.CapturedAt.Sub(prev.CapturedAt)
	if delta := starsNow - starsPrev; delta >= th.StarDelta && starsPrev < th.StarBaseline &&
		elapsed >= 0 && elapsed <= th.StarWindow {
		ev(StarSpike, starsPrev, starsNow, confidence(delta, th.StarDelta),
			fmt.Sprintf("+%.0f stars in %s", delta, elapsed.Round(time.Minute)))
	}

	bestPrev, bestNow := prev.Facts.Get(score.FactHNTopScore), now.Facts.Get(score.FactHNTopScore)
	if bestNow > th.HNScore && bestNow > bestPrev {
		ev(HNSpike, bestPrev, bestNow, confidence(bestNow, math.Max(th.HNScore, bestPrev)),
			fmt.Sprintf("HN post reached %.0f points", bestNow))
	}

	if delta := float64(now.Composite - prev.Composite); delta > th.ScoreDelta {
		ev(ScoreInflection, float64(prev.Composite), float64(now.Composite), confidence(delta, th.ScoreDelta),
			fmt.Sprintf("composite score jumped %d to %d", prev.Composite, now.Composite))
	}
	return out
}

func detectThemes(cur, prev Snapshot, th Thresholds) []Event {
	var out []Event
	prevThemes := make([]ThemeSnapshot, 0, len(prev.Themes))
	for _, id := range sortedKeys(prev.Themes) {
		prevThemes = append(prevThemes, prev.Themes[id])
	}

	for _, id := range sortedKeys(cur.Themes) {
		t := cur.Themes[id]
		size := len(t.Members)

		if _, existed := prev.Themes[id]; !existed && size >= th.MinClusterSize && !hasEquivalent(t, prevThemes) {
			out = append(out, Event{
				Type:       NewTheme,
				EntityType: EntityTheme,
				EntityID:   id,
				Before:     0,
				After:      float64(size),
				Confidence: confidence(float64(size), float64(th.MinClusterSize)),
				Detail:     fmt.Sprintf("new theme %q with %d builders", t.Name, size),
			})
			continue
		}

		if _, existed := prev.Themes[id]; !existed || t.WeekAgoBuilders <= 0 {
			continue
		}
		growth := float64(size-t.WeekAgoBuilders) / float64(t.WeekAgoBuilders)
		if growth >= th.ThemeGrowth {
			out = append(out, Event{
				Type:       ThemeSpike,
				EntityType: EntityTheme,
				EntityID:   id,
				Before:     float64(t.WeekAgoBuilders),
				After:      float64(size),
				Confidence: confidence(growth, th.ThemeGrowth),
				Detail:     fmt.Sprintf("theme %q grew %.0f%% week over week", t.Name, growth*100),
			})
		}
	}
	return out
}

func hasEquivalent(t ThemeSnapshot, prev []ThemeSnapshot) bool {
	for _, p := range prev {
		if cluster.Overlaps(t.Members, p.Members) {
			return true
		}
	}
	return false
}

// confidence grows from 0.5 at the threshold to 1 at twice the threshold.
func confidence(observed, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	c := 0.5 + 0.5*(observed-threshold)/threshold
	return math.Round(math.Min(1, math.Max(0.5, c))*100) / 100
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.Type < b.Type
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
