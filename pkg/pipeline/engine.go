// Package pipeline runs one scoring cycle end to end: load a consistent
// snapshot, score founders, embed and cluster them, score themes, detect
// anomalies, commit everything in one transaction and then alert.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/internal/store"
	"github.com/elonfeng/scout/pkg/alert"
	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/cluster"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/enrich"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/source"
	"github.com/elonfeng/scout/pkg/theme"
)

// ErrCycleRunning is returned when a cycle is requested while one is active.
var ErrCycleRunning = errors.New("pipeline cycle already running")

const weekAgo = 7 * 24 * time.Hour

// Options wires an Engine. Zero values fall back to package defaults.
type Options struct {
	Weights        score.Weights
	Cluster        cluster.Params
	Thresholds     anomaly.Thresholds
	ThemeWeights   theme.Weights
	Lifecycle      theme.Lifecycle
	AlertThreshold int

	Sources    []source.Source
	Embedder   *embed.Service
	Summarizer theme.Summarizer
	Enricher   *enrich.Runner
	Alerts     *alert.Manager
	Logger     *log.Logger
}

// Report summarises one cycle.
type Report struct {
	CycleID           string          `json:"cycle_id"`
	StartedAt         time.Time       `json:"started_at"`
	Duration          time.Duration   `json:"duration"`
	Scored            int             `json:"scored"`
	Embedded          int             `json:"embedded"`
	Reused            int             `json:"reused"`
	EmbedFailed       []string        `json:"embed_failed,omitempty"`
	ClusteringSkipped bool            `json:"clustering_skipped"`
	Themes            int             `json:"themes"`
	NewThemes         int             `json:"new_themes"`
	Events            []anomaly.Event `json:"events"`
	Alerts            int             `json:"alerts"`
}

// Engine owns the collect, enrich and cycle steps.
type Engine struct {
	store      store.Store
	sources    []source.Source
	embedder   *embed.Service
	summarizer theme.Summarizer
	enricher   *enrich.Runner
	alerts     *alert.Manager

	weights        score.Weights
	clusterParams  cluster.Params
	thresholds     anomaly.Thresholds
	themeWeights   theme.Weights
	lifecycle      theme.Lifecycle
	alertThreshold int

	logger  *log.Logger
	now     func() time.Time
	running atomic.Bool
}

// New creates an Engine. The composite weights are validated once here so a
// bad weight table fails before any score is touched.
func New(s store.Store, opts Options) (*Engine, error) {
	if opts.Weights == (score.Weights{}) {
		opts.Weights = score.DefaultWeights()
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("validate weights: %w", err)
	}
	if opts.Embedder == nil {
		return nil, errors.New("pipeline needs an embedder")
	}
	if opts.Cluster == (cluster.Params{}) {
		opts.Cluster = cluster.DefaultParams()
	}
	if opts.Thresholds == (anomaly.Thresholds{}) {
		opts.Thresholds = anomaly.DefaultThresholds()
	}
	opts.Thresholds.MinClusterSize = opts.Cluster.MinClusterSize
	if opts.ThemeWeights == (theme.Weights{}) {
		opts.ThemeWeights = theme.DefaultWeights()
	}
	if opts.Lifecycle == (theme.Lifecycle{}) {
		opts.Lifecycle = theme.DefaultLifecycle()
	}
	if opts.AlertThreshold <= 0 {
		opts.AlertThreshold = 85
	}

	return &Engine{
		store:          s,
		sources:        opts.Sources,
		embedder:       opts.Embedder,
		summarizer:     opts.Summarizer,
		enricher:       opts.Enricher,
		alerts:         opts.Alerts,
		weights:        opts.Weights,
		clusterParams:  opts.Cluster,
		thresholds:     opts.Thresholds,
		themeWeights:   opts.ThemeWeights,
		lifecycle:      opts.Lifecycle,
		alertThreshold: opts.AlertThreshold,
		logger:         logging.OrDiscard(opts.Logger),
		now:            time.Now,
	}, nil
}

// Running reports whether a cycle is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Collect runs every source and records what it saw. A failing source is
// logged and skipped; the call fails only when every source failed.
func (e *Engine) Collect(ctx context.Context) (int, error) {
	var (
		total  int
		failed int
		errs   []error
	)
	for _, src := range e.sources {
		obs, err := src.Collect(ctx)
		if err != nil {
			e.logger.Error("collector failed", "source", src.Name(), "err", err)
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		n, err := e.store.RecordObservations(ctx, obs, e.now())
		if err != nil {
			return total, fmt.Errorf("record %s observations: %w", src.Name(), err)
		}
		e.logger.Info("collected", "source", src.Name(), "observations", len(obs), "founders", n)
		total += n
	}
	if len(e.sources) > 0 && failed == len(e.sources) {
		return 0, fmt.Errorf("every source failed: %w", errors.Join(errs...))
	}
	return total, nil
}

// Enrich runs the enrichment gate if an enricher is configured.
func (e *Engine) Enrich(ctx context.Context) (int, error) {
	if e.enricher == nil {
		return 0, nil
	}
	return e.enricher.Run(ctx)
}

// countType counts events of type t. A freshly minted theme id whose
// members mostly belonged to an earlier theme emits no new_theme event and
// is not counted as new.
func countType(events []anomaly.Event, t anomaly.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// RunCycle runs one full scoring cycle. Only one cycle runs at a time;
// an overlapping call returns ErrCycleRunning without touching the store.
func (e *Engine) RunCycle(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer e.running.Store(false)

	now := e.now().UTC()
	rep := &Report{CycleID: uuid.NewString(), StartedAt: now}
	logger := e.logger.With("cycle_id", rep.CycleID)

	cooldown := max(e.thresholds.Cooldown, e.thresholds.NewThemeCooldown)
	st, err := e.store.LoadCycleState(ctx, store.LoadOpts{
		WeekAgo:   now.Add(-weekAgo),
		OpenSince: now.Add(-cooldown),
	})
	if err != nil {
		return nil, fmt.Errorf("load cycle state: %w", err)
	}

	c := &cycle{engine: e, state: st, now: now, logger: logger}
	commit := &store.CycleCommit{At: now}
	c.scoreFounders(commit)
	rep.Scored = len(commit.Scores)

	emb := e.embedder.Embed(ctx, c.embedProfiles(), st.Embeddings)
	commit.Embeddings = emb.Updated
	rep.Embedded, rep.Reused, rep.EmbedFailed = len(emb.Updated), emb.Reused, emb.Failed

	updates, skipped := c.clusterThemes(ctx, emb)
	commit.Themes = updates
	rep.ClusteringSkipped = skipped
	rep.Themes = len(updates)

	events := anomaly.Detect(c.currentSnapshot(updates, skipped), c.previousSnapshot(), e.thresholds)
	events = anomaly.Dedup(events, st.OpenEvents, e.thresholds, now)
	for i := range events {
		events[i].ID = uuid.NewString()
	}
	commit.Events = events
	rep.Events = events
	rep.NewThemes = countType(events, anomaly.NewTheme)

	if err := e.store.CommitCycle(ctx, commit); err != nil {
		return nil, fmt.Errorf("commit cycle: %w", err)
	}

	rep.Alerts = c.sendAlerts(ctx, events, updates)
	rep.Duration = e.now().Sub(now)
	logger.Info("cycle complete",
		"scored", rep.Scored, "embedded", rep.Embedded, "reused", rep.Reused,
		"embed_failed", len(rep.EmbedFailed), "themes", rep.Themes, "events", len(events))
	return rep, nil
}
