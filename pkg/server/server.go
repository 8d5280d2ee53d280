package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/internal/store"
	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/pipeline"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/theme"
)

// CycleRunner triggers an on-demand scoring cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*pipeline.Report, error)
}

// Server provides the HTTP API.
type Server struct {
	store   store.Store
	runner  CycleRunner
	weights score.Weights
	port    int
	logger  *log.Logger
}

// New creates a new HTTP server. runner may be nil, in which case on-demand
// cycles are unavailable. weights are the defaults for score previews.
func New(s store.Store, runner CycleRunner, weights score.Weights, port int, logger *log.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if weights == (score.Weights{}) {
		weights = score.DefaultWeights()
	}
	return &Server{
		store:   s,
		runner:  runner,
		weights: weights,
		port:    port,
		logger:  logging.OrDiscard(logger),
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/founders", s.handleFounders)
		r.Get("/founders/{id}", s.handleFounder)
		r.Patch("/founders/{id}", s.handleUpdateFounder)
		r.Get("/themes", s.handleThemes)
		r.Get("/themes/{id}", s.handleTheme)
		r.Get("/events", s.handleEvents)
		r.Patch("/events/{id}", s.handleUpdateEvent)
		r.Post("/score/preview", s.handlePreview)
		r.Post("/cycle", s.handleCycle)
	})
	return r
}

// ListenAndServe starts the HTTP server and shuts it down gracefully when
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFounders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.FounderListOpts{Limit: intParam(q.Get("limit"), 100)}
	if v := q.Get("status"); v != "" {
		st, err := store.ParseFounderStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Status = st
	}
	opts.MinComposite = intParam(q.Get("min_score"), 0)

	founders, err := s.store.ListFounders(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  founders,
		"count": len(founders),
	})
}

func (s *Server) handleFounder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, err := s.store.GetFounder(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	signals, err := s.store.ListSignals(r.Context(), id, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    f,
		"signals": signals,
	})
}

func (s *Server) handleUpdateFounder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status *string `json:"status"`
		Notes  *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	upd := store.FounderUpdate{Notes: body.Notes}
	if body.Status != nil {
		st, err := store.ParseFounderStatus(*body.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		upd.Status = &st
	}

	f, err := s.store.UpdateFounder(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": f})
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ThemeListOpts{Stage: theme.Stage(q.Get("stage")), Limit: intParam(q.Get("limit"), 50)}
	themes, err := s.store.ListThemes(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  themes,
		"count": len(themes),
	})
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTheme(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": t})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.EventListOpts{
		Type:  anomaly.EventType(q.Get("type")),
		Limit: intParam(q.Get("limit"), 100),
	}
	if v := q.Get("status"); v != "" {
		st, err := anomaly.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Status = st
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}

	events, err := s.store.ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"count": len(events),
	})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	st, err := anomaly.ParseStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e, err := s.store.UpdateEventStatus(r.Context(), chi.URLParam(r, "id"), st)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": e})
}

// handlePreview recomputes a composite from caller-supplied dimension scores
// and weights with the same rule the pipeline persists.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dimensions score.Vector       `json:"dimensions"`
		Weights    map[string]float64 `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	weights := s.weights
	if body.Weights != nil {
		parsed, err := score.ParseWeights(body.Weights)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		weights = parsed
	}

	composite, err := score.Composite(body.Dimensions, weights)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"composite": composite,
		"weights":   weights,
	})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("cycles are not enabled on this server"))
		return
	}
	rep, err := s.runner.RunCycle(r.Context())
	if errors.Is(err, pipeline.ErrCycleRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.logger.Error("on-demand cycle failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rep})
}

func intParam(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
