package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestProfileTextOrderAndDedup(t *testing.T) {
	p := Profile{
		Bio: "Building  voice agents",
		RepoDescriptions: []WeightedText{
			{Text: "small lib", Weight: 1},
			{Text: "Voice agent runtime", Weight: 90},
			{Text: "BUILDING VOICE AGENTS", Weight: 50},
		},
		PostTitles: []WeightedText{{Text: "Show HN: clinic bot", Weight: 10}},
	}
	got := ProfileText(p, TextOptions{TopN: 2})
	want := "Building voice agents\nVoice agent runtime\nShow HN: clinic bot"
	if got != want {
		t.Errorf("ProfileText = %q, want %q", got, want)
	}
}

func TestProfileTextNormalizesWidth(t *testing.T) {
	p := Profile{Bio: "ＡＩ agents", PostTitles: []WeightedText{{Text: "ai AGENTS"}}}
	if got := ProfileText(p, DefaultTextOptions()); got != "AI agents" {
		t.Errorf("ProfileText = %q", got)
	}
}

func TestProfileTextCapsRunes(t *testing.T) {
	p := Profile{Bio: strings.Repeat("é", 50)}
	got := ProfileText(p, TextOptions{MaxChars: 10})
	if n := len([]rune(got)); n != 10 {
		t.Errorf("rune length = %d, want 10", n)
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("hello")
	if len(a) != 16 {
		t.Fatalf("hash length = %d", len(a))
	}
	if a != ContentHash("hello") || a == ContentHash("hello!") {
		t.Error("hash should be stable and content sensitive")
	}
}

type fakeEmbedder struct {
	calls atomic.Int32
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float64, len(texts))
	for i, s := range texts {
		if f.fail[s] {
			return nil, errors.New("model unavailable")
		}
		out[i] = []float64{float64(len(s)), 1}
	}
	return out, nil
}

func TestServiceCachesAndIsolatesFailures(t *testing.T) {
	fe := &fakeEmbedder{fail: map[string]bool{"broken": true}}
	svc := NewService(fe, Options{Text: DefaultTextOptions(), Concurrency: 2})

	profiles := []Profile{
		{FounderID: "a", Bio: "alpha"},
		{FounderID: "b", Bio: "broken"},
		{FounderID: "c", Bio: "gamma"},
		{FounderID: "d"},
	}
	cache := map[string]Cached{
		"a": {Hash: ContentHash("alpha"), Vector: []float64{9, 9}},
		"c": {Hash: "stale", Vector: []float64{0, 1}},
	}

	res := svc.Embed(context.Background(), profiles, cache)

	if res.Reused != 1 || res.Vectors["a"][0] != 9 {
		t.Errorf("cache hit not reused: %+v", res)
	}
	if _, ok := res.Updated["c"]; !ok {
		t.Error("changed text should be re-embedded")
	}
	if got := strings.Join(res.Failed, ","); got != "b,d" {
		t.Errorf("failed = %q, want b,d", got)
	}
	if fe.calls.Load() != 2 {
		t.Errorf("embedder calls = %d, want 2", fe.calls.Load())
	}
}

func TestServiceTimeout(t *testing.T) {
	fe := &fakeEmbedder{delay: time.Second}
	svc := NewService(fe, Options{Timeout: 20 * time.Millisecond})
	res := svc.Embed(context.Background(), []Profile{{FounderID: "slow", Bio: "x"}}, nil)
	if len(res.Failed) != 1 || len(res.Vectors) != 0 {
		t.Errorf("timeout should mark founder failed: %+v", res)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "m" || len(body.Input) != 1 {
			t.Errorf("body = %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2}}})
	}))
	defer srv.Close()

	vecs, err := NewOllamaEmbedder("m", srv.URL).Embed(context.Background(), []string{"hi"})
	if err != nil || len(vecs) != 1 || vecs[0][1] != 0.2 {
		t.Fatalf("Embed = %v, %v", vecs, err)
	}
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"index": 1, "embedding": []float64{2}},
			{"index": 0, "embedding": []float64{1}},
		}})
	}))
	defer srv.Close()

	vecs, err := NewOpenAIEmbedder("", "k", srv.URL).Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbedderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllamaEmbedder("m", srv.URL).Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on 500")
	}
	if _, err := New("bogus", "", "", ""); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
