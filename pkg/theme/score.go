// Package theme scores detected clusters, tracks their lifecycle stage and
// labels them for humans.
package theme

import (
	"math"
	"strings"
)

// Weights blend the five emergence components.
type Weights struct {
	Density      float64 `yaml:"density" json:"density"`
	Velocity     float64 `yaml:"velocity" json:"velocity"`
	Composite    float64 `yaml:"composite" json:"composite"`
	Independence float64 `yaml:"independence" json:"independence"`
	Novelty      float64 `yaml:"novelty" json:"novelty"`
}

// DefaultWeights returns the stock emergence blend.
func DefaultWeights() Weights {
	return Weights{Density: 0.25, Velocity: 0.25, Composite: 0.20, Independence: 0.15, Novelty: 0.15}
}

func (w Weights) sum() float64 {
	return w.Density + w.Velocity + w.Composite + w.Independence + w.Novelty
}

// Member is what the scorer and labeller know about one theme member.
type Member struct {
	FounderID string
	Company   string
	Location  string
	Bio       string
	Composite int
	// Texts are repo descriptions and post titles.
	Texts []string
	// Signals are human-readable signal labels.
	Signals []string
}

// Input describes a cluster for scoring.
type Input struct {
	// Density is the mean pairwise cosine similarity of members, in [-1,1].
	Density float64
	// WeekAgoBuilders is the builder count about seven days ago; zero when
	// the theme is younger than that.
	WeekAgoBuilders int
	Members         []Member
}

// Components are the individual 0-100 inputs to the emergence score.
type Components struct {
	Density      float64 `json:"density"`
	Velocity     float64 `json:"velocity"`
	Composite    float64 `json:"composite"`
	Independence float64 `json:"independence"`
	Novelty      float64 `json:"novelty"`
}

// PressPhrases mark press or investor attention in member bios and signals.
var PressPhrases = []string{
	"techcrunch", "forbes", "the verge", "wired", "bloomberg", "featured in",
	"raised", "backed by", "seed round", "series a", "a16z", "sequoia",
	"accel", "index ventures", "funding",
}

// Score returns the 0-100 emergence score and its components.
//
// Density is average pairwise similarity scaled to 100. Velocity maps the net
// weekly membership change as a fraction of current size from [-1,1] onto
// [0,100], so a theme with no week-old history scores 100. Composite is the
// mean member composite. Independence is the share of distinct companies and
// distinct locations, blanks counting as distinct. Novelty is
// 100 / (1 + press mentions per member).
func Score(in Input, w Weights) (float64, Components) {
	n := len(in.Members)
	var c Components
	if n == 0 {
		return 0, c
	}

	c.Density = clamp(in.Density * 100)

	v := float64(n-in.WeekAgoBuilders) / float64(n)
	c.Velocity = clamp(50 + 50*v)

	var total float64
	for _, m := range in.Members {
		total += float64(m.Composite)
	}
	c.Composite = clamp(total / float64(n))

	c.Independence = clamp(100 * (distinctShare(in.Members, func(m Member) string { return m.Company }) +
		distinctShare(in.Members, func(m Member) string { return m.Location })) / 2)

	c.Novelty = clamp(100 / (1 + float64(PressMentions(in.Members))/float64(n)))

	ws := w.sum()
	if ws <= 0 {
		w, ws = DefaultWeights(), DefaultWeights().sum()
	}
	s := (w.Density*c.Density + w.Velocity*c.Velocity + w.Composite*c.Composite +
		w.Independence*c.Independence + w.Novelty*c.Novelty) / ws
	return math.Round(clamp(s)*10) / 10, c
}

// PressMentions counts press phrase hits across member bios and signals.
func PressMentions(members []Member) int {
	hits := 0
	for _, m := range members {
		texts := append([]string{m.Bio}, m.Signals...)
		for _, t := range texts {
			lower := strings.ToLower(t)
			for _, p := range PressPhrases {
				if strings.Contains(lower, p) {
					hits++
				}
			}
		}
	}
	return hits
}

func distinctShare(members []Member, key func(Member) string) float64 {
	seen := make(map[string]bool)
	distinct := 0
	for _, m := range members {
		k := strings.ToLower(strings.TrimSpace(key(m)))
		if k == "" {
			distinct++
			continue
		}
		if !seen[k] {
			seen[k] = true
			distinct++
		}
	}
	return float64(distinct) / float64(len(members))
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 100:
		return 100
	}
	return x
}
