package theme

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func members(n int) []Member {
	out := make([]Member, n)
	for i := range out {
		out[i] = Member{FounderID: string(rune('a' + i)), Composite: 60}
	}
	return out
}

func TestScoreComponents(t *testing.T) {
	ms := []Member{
		{FounderID: "a", Company: "Acme", Location: "Berlin", Composite: 80},
		{FounderID: "b", Company: "acme ", Location: "Paris", Composite: 60},
		{FounderID: "c", Company: "", Location: "", Composite: 40},
		{FounderID: "d", Company: "Beta", Location: "Berlin", Composite: 20},
	}
	s, c := Score(Input{Density: 0.8, WeekAgoBuilders: 2, Members: ms}, DefaultWeights())

	if c.Density != 80 {
		t.Errorf("density = %v, want 80", c.Density)
	}
	// (4-2)/4 = 0.5 -> 75
	if c.Velocity != 75 {
		t.Errorf("velocity = %v, want 75", c.Velocity)
	}
	if c.Composite != 50 {
		t.Errorf("composite = %v, want 50", c.Composite)
	}
	// companies: acme, blank, beta = 3/4; locations: berlin, paris, blank = 3/4
	if c.Independence != 75 {
		t.Errorf("independence = %v, want 75", c.Independence)
	}
	if c.Novelty != 100 {
		t.Errorf("novelty = %v, want 100 with no mentions", c.Novelty)
	}
	// 0.25*80 + 0.25*75 + 0.2*50 + 0.15*75 + 0.15*100 = 75
	if s != 75 {
		t.Errorf("score = %v, want 75", s)
	}
}

func TestScoreNoveltyDropsWithPress(t *testing.T) {
	quiet := members(3)
	loud := members(3)
	loud[0].Signals = []string{"Featured in TechCrunch"}
	loud[1].Bio = "We raised a seed round"

	_, qc := Score(Input{Density: 0.8, Members: quiet}, DefaultWeights())
	_, lc := Score(Input{Density: 0.8, Members: loud}, DefaultWeights())
	if lc.Novelty >= qc.Novelty {
		t.Errorf("novelty with press %v should be below %v", lc.Novelty, qc.Novelty)
	}
}

func TestScoreBounded(t *testing.T) {
	s, _ := Score(Input{Density: 1.5, WeekAgoBuilders: 0, Members: members(5)}, Weights{Density: 10})
	if s < 0 || s > 100 {
		t.Fatalf("score %v out of range", s)
	}
	if s, _ := Score(Input{}, DefaultWeights()); s != 0 {
		t.Fatalf("empty theme score = %v", s)
	}
}

func TestLifecycleTarget(t *testing.T) {
	l := DefaultLifecycle()
	tests := []struct {
		builders, mentions int
		want               Stage
	}{
		{2, 0, Nascent},
		{3, 5, Nascent},
		{4, 0, Emerging},
		{7, 3, Emerging},
		{9, 0, Emerging},
		{8, 1, Established},
		{15, 1, Saturated},
		{20, 0, Emerging},
	}
	for _, tt := range tests {
		if got := l.Target(tt.builders, tt.mentions); got != tt.want {
			t.Errorf("Target(%d, %d) = %s, want %s", tt.builders, tt.mentions, got, tt.want)
		}
	}
}

func TestLifecycleHysteresis(t *testing.T) {
	l := DefaultLifecycle()

	stage, strikes := l.Advance("", 0, Nascent)
	if stage != Nascent || strikes != 0 {
		t.Fatalf("initial = %s/%d", stage, strikes)
	}

	stage, strikes = l.Advance(stage, strikes, Established)
	if stage != Established {
		t.Fatalf("upgrade should be immediate, got %s", stage)
	}

	// One noisy cycle below does not regress.
	stage, strikes = l.Advance(stage, strikes, Emerging)
	if stage != Established || strikes != 1 {
		t.Fatalf("after one low cycle = %s/%d", stage, strikes)
	}

	// Recovering resets the strike count.
	stage, strikes = l.Advance(stage, strikes, Established)
	if stage != Established || strikes != 0 {
		t.Fatalf("after recovery = %s/%d", stage, strikes)
	}

	stage, strikes = l.Advance(stage, strikes, Emerging)
	stage, strikes = l.Advance(stage, strikes, Emerging)
	if stage != Emerging || strikes != 0 {
		t.Fatalf("after two low cycles = %s/%d", stage, strikes)
	}
}

func TestPlaceholderName(t *testing.T) {
	ms := []Member{
		{Texts: []string{"Voice agents for dental clinics", "dental scheduling agents"}},
		{Texts: []string{"AI agents that answer clinic phones"}},
		{Texts: []string{"voice AI for clinics"}},
	}
	if got := PlaceholderName(ms); got != "Agents + Clinics + Dental" {
		t.Errorf("name = %q", got)
	}
	if got := PlaceholderName(nil); got != "Emerging Theme" {
		t.Errorf("empty name = %q", got)
	}
}

func TestOrigin(t *testing.T) {
	ms := []Member{
		{Bio: "PhD at Stanford, ex-Google"},
		{Bio: "Former CTO, serial founder"},
		{Bio: "just shipping"},
	}
	got := Origin(ms)
	for _, want := range []string{"1/3 ex-big-tech", "1/3 researchers", "1/3 serial founders", "1/3 operators"} {
		if !strings.Contains(got, want) {
			t.Errorf("origin %q missing %q", got, want)
		}
	}
	if Origin([]Member{{Bio: "hello"}}) != "Mixed backgrounds" {
		t.Error("expected mixed backgrounds")
	}
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, []Member) (Label, error) {
	return Label{}, errors.New("unavailable")
}

func TestDescribeFallsBack(t *testing.T) {
	ms := []Member{{Texts: []string{"robotics robotics warehouse"}}}
	l, err := Describe(context.Background(), failingSummarizer{}, ms)
	if err == nil {
		t.Fatal("expected error to be reported")
	}
	if l.Name != "Robotics + Warehouse" {
		t.Errorf("fallback name = %q", l.Name)
	}

	l, err = Describe(context.Background(), nil, ms)
	if err != nil || l.Name != "Robotics + Warehouse" {
		t.Errorf("nil summarizer: %+v %v", l, err)
	}
}

func TestLLMSummarizerOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		content := "```json\n{\"name\":\"Clinic Voice Agents\",\"pain\":\"Missed calls\",\"unlock\":\"Cheap realtime speech\"}\n```"
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	defer srv.Close()

	s := NewLLMSummarizer("openai", "", "key", srv.URL)
	l, err := Describe(context.Background(), s, []Member{{Bio: "PhD", Texts: []string{"voice"}}})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if l.Name != "Clinic Voice Agents" || l.Pain != "Missed calls" {
		t.Errorf("label = %+v", l)
	}
	if l.Origin != "1/1 researchers" {
		t.Errorf("origin should fall back to placeholder, got %q", l.Origin)
	}
}

func TestLLMSummarizerAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("headers = %v", r.Header)
		}
		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model == "" || body.MaxTokens == 0 {
			t.Errorf("body = %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": `{"name":"Robot Picking","pain":"Labor","unlock":"VLA models","origin":"ex-Amazon"}`}},
		})
	}))
	defer srv.Close()

	s := NewLLMSummarizer("anthropic", "", "sk-ant", srv.URL+"/")
	l, err := s.Summarize(context.Background(), []Member{{Bio: "roboticist", Company: "Pick"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if l.Name != "Robot Picking" || l.Origin != "ex-Amazon" {
		t.Errorf("label = %+v", l)
	}
}

func TestLLMSummarizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewLLMSummarizer("openai", "", "key", srv.URL)
	_, err := s.Summarize(context.Background(), []Member{{Bio: "x"}})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}
