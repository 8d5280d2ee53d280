package score

import "strings"

// FundingStage is the founder's last known raise.
type FundingStage string

const (
	StageUnknown     FundingStage = ""
	StageBootstrap   FundingStage = "bootstrapped"
	StagePreSeed     FundingStage = "pre_seed"
	StageSeed        FundingStage = "seed"
	StageSeriesA     FundingStage = "series_a"
	StageSeriesBPlus FundingStage = "series_b_plus"
)

// stageAvailability scores how open a founder is to a new round; earlier is
// higher.
func stageAvailability(s FundingStage) float64 {
	switch s {
	case StageBootstrap, "none":
		return 100
	case StagePreSeed:
		return 80
	case StageSeed:
		return 50
	case StageSeriesA:
		return 20
	case StageSeriesBPlus:
		return 0
	}
	return 70
}

// Profile is everything the dimension scorer reads about one founder.
type Profile struct {
	Facts        Facts
	Bio          string
	FundingStage FundingStage
	Incubator    Incubator
}

type phraseGroup struct {
	points  float64
	phrases []string
}

// pedigreeGroups each count at most once. Raw points cap at pedigreeCap.
var pedigreeGroups = []phraseGroup{
	{18, []string{"serial founder", "previously founded", "co-founded", "exited"}},
	{15, []string{"openai", "deepmind", "anthropic", "stripe", "coinbase", "airbnb"}},
	{12, []string{"google", "meta", "amazon", "apple", "microsoft", "netflix"}},
	{10, []string{"ex-", "former "}},
	{8, []string{"phd", "research scientist", "professor"}},
	{6, []string{"led the", "led a ", "led engineering", "led product", "tech lead", "head of"}},
}

const pedigreeCap = 35

var fundraisingPhrases = []string{
	"raised", "backed by", "series a", "series b", "seed round", "funded by", "vc-backed",
}

// Pedigree scores bio background phrases on [0,100].
func Pedigree(bio string) float64 {
	lower := strings.ToLower(bio)
	var pts float64
	for _, g := range pedigreeGroups {
		if containsAny(lower, g.phrases) {
			pts += g.points
		}
	}
	if pts > pedigreeCap {
		pts = pedigreeCap
	}
	return pts * 100 / pedigreeCap
}

// FundraisingHits counts distinct fundraising phrases in bio.
func FundraisingHits(bio string) int {
	lower := strings.ToLower(bio)
	n := 0
	for _, p := range fundraisingPhrases {
		if strings.Contains(lower, p) {
			n++
		}
	}
	return n
}

type subSignal struct {
	weight float64
	value  func(p Profile) float64
}

func fact(f Fact) func(Profile) float64 {
	return func(p Profile) float64 { return NormalizeFact(f, p.Facts.Get(f)) }
}

func inverted(f Fact) func(Profile) float64 {
	return func(p Profile) float64 { return 100 - NormalizeFact(f, p.Facts.Get(f)) }
}

// blends are the fixed per-dimension sub-signal weights. Each row sums to 1.
var blends = [NumDimensions][]subSignal{
	FounderQuality: {
		{0.50, func(p Profile) float64 { return Pedigree(p.Bio) }},
		{0.20, fact(FactHNKarma)},
		{0.15, fact(FactFollowers)},
		{0.15, fact(FactPublicRepos)},
	},
	ExecutionVelocity: {
		{0.60, fact(FactCommits90d)},
		{0.15, fact(FactPublicRepos)},
		{0.10, fact(FactPHLaunches)},
		{0.15, fact(FactHNSubmissions)},
	},
	MarketConviction: {
		{0.50, fact(FactGitHubStars)},
		{0.30, fact(FactHNTopScore)},
		{0.20, fact(FactHNKarma)},
	},
	EarlyTraction: {
		{0.40, fact(FactPHUpvotes)},
		{0.20, fact(FactGitHubStars)},
		{0.20, fact(FactFollowers)},
		{0.20, fact(FactHNTopScore)},
	},
	DealAvailability: {
		{0.40, inverted(FactFollowers)},
		{0.35, func(p Profile) float64 {
			return max(0, 100-50*float64(FundraisingHits(p.Bio)))
		}},
		{0.25, func(p Profile) float64 { return stageAvailability(p.FundingStage) }},
	},
}

// ScoreDimension blends the sub-signals of d for p and applies incubator
// adjustments. The result is always within [0,100].
func ScoreDimension(d Dimension, p Profile) float64 {
	if d < 0 || int(d) >= NumDimensions {
		return 0
	}
	var s float64
	for _, sig := range blends[d] {
		s += sig.weight * sig.value(p)
	}
	switch d {
	case FounderQuality:
		s += p.Incubator.qualityBonus()
	case DealAvailability:
		s += p.Incubator.availabilityAdjustment()
	}
	return clamp(s)
}

// ScoreAll scores every dimension for p.
func ScoreAll(p Profile) Vector {
	var v Vector
	for _, d := range Dimensions() {
		v[d] = ScoreDimension(d, p)
	}
	return v
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
