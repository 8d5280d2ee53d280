package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elonfeng/scout/internal/store"
	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/pipeline"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/source"
)

type stubRunner struct {
	err error
}

func (r *stubRunner) RunCycle(ctx context.Context) (*pipeline.Report, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Report{CycleID: "cycle-1", Scored: 2}, nil
}

func newTestServer(t *testing.T, runner CycleRunner) (*Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	_, err = s.RecordObservations(context.Background(), []source.Observation{
		{Source: source.SourceGitHub, Handle: "@ana", Name: "Ana", Bio: "Voice agents", ActiveAt: now},
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	return New(s, runner, score.Weights{}, 0, nil), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(t, srv.Routes(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}

func TestFounderEndpoints(t *testing.T) {
	srv, s := newTestServer(t, nil)
	h := srv.Routes()

	w := do(t, h, http.MethodGet, "/api/v1/founders", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Fatalf("count = %v", got)
	}

	founders, err := s.ListFounders(context.Background(), store.FounderListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	id := founders[0].ID

	w = do(t, h, http.MethodGet, "/api/v1/founders/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = do(t, h, http.MethodPatch, "/api/v1/founders/"+id, `{"status":"watching","notes":"met at demo day"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", w.Code, w.Body)
	}
	data := decode(t, w)["data"].(map[string]any)
	if data["status"] != "watching" || data["notes"] != "met at demo day" {
		t.Errorf("updated founder = %v", data)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown founder", http.MethodGet, "/api/v1/founders/missing", "", http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/v1/founders?status=hot", "", http.StatusBadRequest},
		{"bad status value", http.MethodPatch, "/api/v1/founders/" + id, `{"status":"hot"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPatch, "/api/v1/founders/" + id, `{`, http.StatusBadRequest},
		{"patch unknown founder", http.MethodPatch, "/api/v1/founders/missing", `{"notes":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestThemeAndEventEndpoints(t *testing.T) {
	srv, s := newTestServer(t, nil)
	h := srv.Routes()
	ctx := context.Background()

	at := time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)
	err := s.CommitCycle(ctx, &store.CycleCommit{
		At: at,
		Events: []anomaly.Event{{
			ID: "ev-1", Type: anomaly.HNSpike, EntityType: anomaly.EntityFounder, EntityID: "f-1",
			Before: 10, After: 120, Confidence: 0.8, Status: anomaly.StatusNew, DetectedAt: at,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodGet, "/api/v1/themes", "")
	if w.Code != http.StatusOK || decode(t, w)["count"] != float64(0) {
		t.Fatalf("themes: %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/themes/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing theme status = %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/events?status=new&type=hn_spike", "")
	if w.Code != http.StatusOK || decode(t, w)["count"] != float64(1) {
		t.Fatalf("events: %d %s", w.Code, w.Body)
	}
	w = do(t, h, http.MethodGet, "/api/v1/events?since=2026-10-13T00:00:00Z", "")
	if decode(t, w)["count"] != float64(0) {
		t.Error("since filter not applied")
	}

	w = do(t, h, http.MethodPatch, "/api/v1/events/ev-1", `{"status":"noted"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch event: %d %s", w.Code, w.Body)
	}
	if got := decode(t, w)["data"].(map[string]any)["status"]; got != "noted" {
		t.Errorf("event status = %v", got)
	}
	if w := do(t, h, http.MethodPatch, "/api/v1/events/ev-1", `{"status":"closed"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid event status accepted: %d", w.Code)
	}
	if w := do(t, h, http.MethodPatch, "/api/v1/events/ev-2", `{"status":"noted"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown event status = %d", w.Code)
	}
}

func TestScorePreview(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Routes()

	tests := []struct {
		name      string
		body      string
		want      int
		composite float64
	}{
		{
			name:      "default weights",
			body:      `{"dimensions":{"founder_quality":80,"execution_velocity":80,"market_conviction":80,"early_traction":80,"deal_availability":80}}`,
			want:      http.StatusOK,
			composite: 80,
		},
		{
			name:      "custom weights",
			body:      `{"dimensions":{"founder_quality":50,"early_traction":90},"weights":{"founder_quality":1}}`,
			want:      http.StatusOK,
			composite: 50,
		},
		{"negative weight", `{"dimensions":{},"weights":{"founder_quality":-1}}`, http.StatusBadRequest, 0},
		{"all zero weights", `{"dimensions":{},"weights":{"founder_quality":0}}`, http.StatusBadRequest, 0},
		{"unknown dimension", `{"dimensions":{"charisma":1}}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/score/preview", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
			if tt.want == http.StatusOK {
				if got := decode(t, w)["composite"]; got != tt.composite {
					t.Errorf("composite = %v, want %v", got, tt.composite)
				}
			}
		})
	}
}

func TestCycleEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		runner CycleRunner
		want   int
	}{
		{"disabled", nil, http.StatusServiceUnavailable},
		{"runs", &stubRunner{}, http.StatusOK},
		{"overlap", &stubRunner{err: pipeline.ErrCycleRunning}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.runner)
			if w := do(t, srv.Routes(), http.MethodPost, "/api/v1/cycle", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleThemeReadsRouteParam(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "does-not-exist")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/themes/does-not-exist", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	srv.handleTheme(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
