package score

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestNormalizeZero(t *testing.T) {
	for _, f := range AllFacts() {
		if got := NormalizeFact(f, 0); got != 0 {
			t.Errorf("NormalizeFact(%s, 0) = %v, want 0", f, got)
		}
	}
}

func TestNormalizeCeiling(t *testing.T) {
	if got := NormalizeFact(FactCommits90d, 300); math.Abs(got-100) > 1e-9 {
		t.Errorf("commits at ceiling = %v, want 100", got)
	}
	if got := NormalizeFact(FactCommits90d, 5000); got != 100 {
		t.Errorf("commits above ceiling = %v, want 100", got)
	}
}

func TestNormalizeBadInput(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"negative", -10, 0},
		{"nan", math.NaN(), 0},
		{"inf", math.Inf(1), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFact(FactGitHubStars, tt.raw); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if got := NormalizeFact(Fact("unknown"), 10); got != 0 {
		t.Errorf("unknown fact = %v, want 0", got)
	}
}

func TestNormalizeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ceiling := rapid.Float64Range(1, 1e6).Draw(t, "ceiling")
		a := rapid.Float64Range(0, 1e9).Draw(t, "a")
		b := rapid.Float64Range(0, 1e9).Draw(t, "b")
		if a > b {
			a, b = b, a
		}
		na, nb := Normalize(a, ceiling), Normalize(b, ceiling)
		if na < 0 || nb > 100 {
			t.Fatalf("out of range: %v %v", na, nb)
		}
		if na > nb {
			t.Fatalf("not monotone: Normalize(%v)=%v > Normalize(%v)=%v", a, na, b, nb)
		}
	})
}

func TestCompositeWeightNormalization(t *testing.T) {
	w, err := ParseWeights(map[string]float64{
		"founder_quality":    2,
		"execution_velocity": 2,
		"market_conviction":  0,
		"early_traction":     0,
		"deal_availability":  0,
	})
	if err != nil {
		t.Fatalf("ParseWeights: %v", err)
	}
	got, err := Composite(Vector{80, 40, 0, 0, 0}, w)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if got != 60 {
		t.Errorf("composite = %d, want 60", got)
	}
}

func TestCompositeRejectsBadWeights(t *testing.T) {
	v := Vector{50, 50, 50, 50, 50}
	if _, err := Composite(v, Weights{1, -1, 0, 0, 0}); !errors.Is(err, ErrNegativeWeight) {
		t.Errorf("negative weight: err = %v", err)
	}
	if _, err := Composite(v, Weights{}); !errors.Is(err, ErrZeroWeights) {
		t.Errorf("zero weights: err = %v", err)
	}
	if _, err := Composite(v, Weights{math.NaN(), 1, 0, 0, 0}); !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("nan weight: err = %v", err)
	}
}

func TestParseWeightsUnknownKey(t *testing.T) {
	_, err := ParseWeights(map[string]float64{"founder_qualty": 1})
	if !errors.Is(err, ErrUnknownDimension) {
		t.Fatalf("err = %v, want ErrUnknownDimension", err)
	}
}

func TestCompositeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var v Vector
		var w Weights
		for _, d := range Dimensions() {
			v[d] = rapid.Float64Range(0, 100).Draw(t, "score_"+d.String())
			w[d] = rapid.Float64Range(0, 10).Draw(t, "weight_"+d.String())
		}
		w[rapid.IntRange(0, NumDimensions-1).Draw(t, "positive")] += 0.5

		c1, err := Composite(v, w)
		if err != nil {
			t.Fatalf("Composite: %v", err)
		}
		if c1 < 0 || c1 > 100 {
			t.Fatalf("composite %d out of range", c1)
		}

		c2, _ := Composite(v, w)
		if c1 != c2 {
			t.Fatalf("not idempotent: %d != %d", c1, c2)
		}

		var doubled Weights
		for i := range w {
			doubled[i] = w[i] * 2
		}
		c3, _ := Composite(v, doubled)
		if c1 != c3 {
			t.Fatalf("not scale invariant: %d != %d", c1, c3)
		}
	})
}

func TestDimensionScoresBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		facts := Facts{}
		for _, f := range AllFacts() {
			facts[f] = rapid.Float64Range(-100, 1e7).Draw(t, string(f))
		}
		p := Profile{
			Facts:        facts,
			Bio:          rapid.SampledFrom([]string{"", "ex-Google PhD, serial founder", "raised seed round backed by a16z"}).Draw(t, "bio"),
			FundingStage: rapid.SampledFrom([]FundingStage{StageUnknown, StagePreSeed, StageSeriesBPlus}).Draw(t, "stage"),
			Incubator: Incubator{
				Program: rapid.SampledFrom([]Program{ProgramNone, ProgramYC, Program500Global}).Draw(t, "program"),
				Phase:   rapid.SampledFrom([]Phase{PhasePreBatch, PhasePostDemoDay}).Draw(t, "phase"),
			},
		}
		for d, s := range ScoreAll(p) {
			if s < 0 || s > 100 {
				t.Fatalf("%s = %v out of range", Dimension(d), s)
			}
		}
	})
}

func TestDealAvailabilityInverted(t *testing.T) {
	quiet := Profile{Facts: Facts{FactFollowers: 10}, Bio: "building in public", FundingStage: StagePreSeed}
	loud := Profile{Facts: Facts{FactFollowers: 8000}, Bio: "Raised our Series A, backed by Sequoia", FundingStage: StageSeriesA}

	q := ScoreDimension(DealAvailability, quiet)
	l := ScoreDimension(DealAvailability, loud)
	if q <= l {
		t.Errorf("quiet founder availability %v should exceed loud founder %v", q, l)
	}
}

func TestIncubatorAdjustments(t *testing.T) {
	base := Profile{Facts: Facts{FactFollowers: 100}, FundingStage: StageSeed}
	plain := ScoreDimension(DealAvailability, base)

	pre := base
	pre.Incubator = Incubator{Program: ProgramYC, Phase: PhasePreBatch}
	if got := ScoreDimension(DealAvailability, pre); math.Abs(got-(plain+20)) > 1e-9 {
		t.Errorf("YC pre-batch = %v, want %v", got, plain+20)
	}

	post := base
	post.Incubator = Incubator{Program: ProgramYC, Phase: PhasePostDemoDay}
	if got := ScoreDimension(DealAvailability, post); math.Abs(got-(plain-25)) > 1e-9 {
		t.Errorf("YC post demo day = %v, want %v", got, plain-25)
	}

	if fq := ScoreDimension(FounderQuality, pre); fq < 10 {
		t.Errorf("affiliated founder quality = %v, want at least the bonus", fq)
	}
}

func TestPedigree(t *testing.T) {
	if got := Pedigree(""); got != 0 {
		t.Errorf("empty bio = %v", got)
	}
	low := Pedigree("PhD student")
	high := Pedigree("Ex-OpenAI research scientist, serial founder")
	if low <= 0 || high <= low {
		t.Errorf("pedigree ordering wrong: low=%v high=%v", low, high)
	}
	if high > 100 {
		t.Errorf("pedigree %v above 100", high)
	}
}

func TestDetectIncubator(t *testing.T) {
	tests := []struct {
		text    string
		program Program
		batch   string
	}{
		{"Founder @ Acme (YC W26)", ProgramYC, "W26"},
		{"Y Combinator Summer 2025 alum", ProgramYC, "S25"},
		{"YC Spring 2025", ProgramYC, "X25"},
		{"Building Acme (YC X25)", ProgramYC, "X25"},
		{"Y Combinator F24", ProgramYC, "F24"},
		{"Launch YC: Acme - agents for accountants", ProgramYC, ""},
		{"Proud 500 Global portfolio company", Program500Global, ""},
		{"Plug & Play batch 12", ProgramPlugAndPlay, ""},
		{"Launch HN: Ledgerly (Techstars NYC '25)", ProgramTechstars, ""},
		{"a16z speedrun SR004 company", ProgramSpeedrun, ""},
		{"Speedrun SR003", ProgramSpeedrun, ""},
		{"Resident at HF0", ProgramHF0, ""},
		{"Pioneer winner, building dev tools", ProgramPioneer, ""},
		{"I like playing plug-in synths", ProgramNone, ""},
		{"Any% speedrun enjoyer", ProgramNone, ""},
		{"Pioneering robotics", ProgramNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := DetectIncubator(tt.text)
			if got.Program != tt.program || got.Batch != tt.batch {
				t.Errorf("DetectIncubator(%q) = %+v, want %s %q", tt.text, got, tt.program, tt.batch)
			}
		})
	}
}

func TestVectorJSONRejectsUnknownKey(t *testing.T) {
	var v Vector
	if err := json.Unmarshal([]byte(`{"founder_quality":10,"vibes":90}`), &v); err == nil {
		t.Fatal("expected error for unknown dimension key")
	}
	if err := json.Unmarshal([]byte(`{"founder_quality":10}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v[FounderQuality] != 10 {
		t.Errorf("founder_quality = %v", v[FounderQuality])
	}
}

func TestIncubatorPhaseAt(t *testing.T) {
	w26 := Incubator{Program: ProgramYC, Batch: "W26"}
	tests := []struct {
		at   time.Time
		want Phase
	}{
		{time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC), PhasePreBatch},
		{time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), PhaseInBatch},
		{time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC), PhaseInBatch},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), PhasePostDemoDay},
	}
	for _, tt := range tests {
		if got := w26.PhaseAt(tt.at); got != tt.want {
			t.Errorf("PhaseAt(%s) = %q, want %q", tt.at.Format(time.DateOnly), got, tt.want)
		}
	}

	x25 := Incubator{Program: ProgramYC, Batch: "X25"}
	if got := x25.PhaseAt(time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)); got != PhaseInBatch {
		t.Errorf("spring batch in May = %q, want in_batch", got)
	}
	if got := x25.PhaseAt(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); got != PhasePreBatch {
		t.Errorf("spring batch in March = %q, want pre_batch", got)
	}
	if got := x25.PhaseAt(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)); got != PhasePostDemoDay {
		t.Errorf("spring batch in July = %q, want post_demo_day", got)
	}

	explicit := Incubator{Program: ProgramYC, Batch: "W26", Phase: PhasePreBatch}
	if got := explicit.PhaseAt(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)); got != PhasePreBatch {
		t.Errorf("explicit phase overridden: %q", got)
	}
	if got := (Incubator{Program: Program500Global}).PhaseAt(time.Now()); got != PhaseUnknown {
		t.Errorf("no batch should stay unknown, got %q", got)
	}
}
