package score

import "math"

// Fact names a raw per-founder activity count reported by a collector or
// enricher.
type Fact string

const (
	FactGitHubStars   Fact = "github_stars"
	FactCommits90d    Fact = "commits_90d"
	FactPublicRepos   Fact = "public_repos"
	FactFollowers     Fact = "followers"
	FactHNKarma       Fact = "hn_karma"
	FactHNTopScore    Fact = "hn_top_score"
	FactHNSubmissions Fact = "hn_submissions"
	FactPHUpvotes     Fact = "ph_upvotes"
	FactPHLaunches    Fact = "ph_launches"
)

// ceilings are the raw values treated as top tier for each fact. A fact at
// its ceiling normalises to 100.
var ceilings = map[Fact]float64{
	FactGitHubStars:   1000,
	FactCommits90d:    300,
	FactPublicRepos:   50,
	FactFollowers:     10000,
	FactHNKarma:       1000,
	FactHNTopScore:    500,
	FactHNSubmissions: 50,
	FactPHUpvotes:     500,
	FactPHLaunches:    5,
}

// AllFacts returns every known fact in a stable order.
func AllFacts() []Fact {
	return []Fact{
		FactGitHubStars, FactCommits90d, FactPublicRepos, FactFollowers,
		FactHNKarma, FactHNTopScore, FactHNSubmissions,
		FactPHUpvotes, FactPHLaunches,
	}
}

// Ceiling returns the reference ceiling for f.
func Ceiling(f Fact) (float64, bool) {
	c, ok := ceilings[f]
	return c, ok
}

// Facts maps raw fact names to their current values.
type Facts map[Fact]float64

// Get returns the value of f. Missing, negative and non-finite values read
// as zero.
func (fs Facts) Get(f Fact) float64 {
	return sanitize(fs[f])
}

// Clone returns a copy of fs.
func (fs Facts) Clone() Facts {
	out := make(Facts, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// Normalize maps a raw count onto [0,100] with a log curve that reaches 100
// at ceiling:
//
//	min(100, 100 * ln(1+raw) / ln(1+ceiling))
//
// Negative or NaN input is treated as 0. A non-positive ceiling yields 0.
func Normalize(raw, ceiling float64) float64 {
	raw = sanitize(raw)
	if ceiling <= 0 || math.IsNaN(ceiling) {
		return 0
	}
	if math.IsInf(raw, 1) {
		return 100
	}
	s := 100 * math.Log1p(raw) / math.Log1p(ceiling)
	if s > 100 {
		return 100
	}
	return s
}

// NormalizeFact normalises raw against the ceiling of f. Unknown facts score 0.
func NormalizeFact(f Fact, raw float64) float64 {
	c, ok := ceilings[f]
	if !ok {
		return 0
	}
	return Normalize(raw, c)
}

func sanitize(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return x
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
