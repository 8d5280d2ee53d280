package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/scout/internal/config"
	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/internal/scheduler"
	"github.com/elonfeng/scout/internal/store"
	"github.com/elonfeng/scout/pkg/alert"
	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/enrich"
	"github.com/elonfeng/scout/pkg/pipeline"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/server"
	"github.com/elonfeng/scout/pkg/source"
	"github.com/elonfeng/scout/pkg/theme"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// setup loads the config, builds the logger and opens the store.
func setup() (*config.Config, *store.SQLiteStore, *log.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level})

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, logger, nil
}

// buildSources returns the enabled collectors. The GitHub collector is also
// returned on its own because the enricher reuses its client.
func buildSources(ctx context.Context, cfg *config.Config, logger *log.Logger) ([]source.Source, *source.GitHub, error) {
	filter := source.NewFilter(cfg.Filter.ExtraKeywords, cfg.Filter.ExcludeKeywords)
	var (
		sources []source.Source
		gh      *source.GitHub
	)

	if cfg.Sources.GitHub.Enabled {
		client, err := source.NewGitHubClient(ctx, cfg.Sources.GitHub.Token, cfg.Sources.GitHub.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		gh = source.NewGitHub(client, cfg.Sources.GitHub.Queries, filter, logger.WithPrefix("github"))
		sources = append(sources, gh)
	}
	if cfg.Sources.HackerNews.Enabled {
		sources = append(sources, source.NewHackerNews(cfg.Sources.HackerNews.Terms, filter, logger.WithPrefix("hn")))
	}
	if cfg.Sources.ProductHunt.Enabled {
		ph := cfg.Sources.ProductHunt
		sources = append(sources, source.NewProductHunt(ph.FeedURL, filter, logger.WithPrefix("producthunt")).WithAPI(ph.Token, ph.APIURL))
	}
	if cfg.Sources.YC.Enabled {
		sources = append(sources, source.NewYC(cfg.Sources.YC.URL, cfg.Sources.YC.Batches, filter, logger.WithPrefix("yc")))
	}

	return sources, gh, nil
}

func buildEmbedder(cfg *config.Config, logger *log.Logger) (*embed.Service, error) {
	e, err := embed.New(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
	if err != nil {
		return nil, err
	}
	return embed.NewService(e, embed.Options{
		Text:        cfg.Embedding.TextOptions(),
		Concurrency: cfg.Embedding.Concurrency,
		Timeout:     cfg.Embedding.ParseTimeout(),
		Logger:      logger.WithPrefix("embed"),
	}), nil
}

func buildSummarizer(cfg *config.Config, logger *log.Logger) theme.Summarizer {
	llm := cfg.Theme.LLM
	if !llm.Enabled || llm.APIKey == "" {
		return nil
	}
	logger.Info("theme summarizer enabled", "provider", llm.Provider, "model", llm.Model)
	return theme.NewLLMSummarizer(llm.Provider, llm.Model, llm.APIKey, llm.BaseURL)
}

func buildEnricher(cfg *config.Config, db store.Store, gh *source.GitHub, logger *log.Logger) *enrich.Runner {
	if !cfg.Enrichment.Enabled || gh == nil {
		return nil
	}
	return enrich.NewRunner(db, []enrich.Enricher{enrich.NewGitHubEnricher(gh)},
		cfg.Enrichment.Gate(), cfg.Enrichment.Concurrency, cfg.Enrichment.ParseTimeout(),
		logger.WithPrefix("enrich"))
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// buildEngine wires the pipeline. When only is non-empty, collectors are
// restricted to the named sources.
func buildEngine(ctx context.Context, cfg *config.Config, db store.Store, logger *log.Logger, only []string) (*pipeline.Engine, error) {
	weights, err := cfg.Scoring.ParseWeights()
	if err != nil {
		return nil, fmt.Errorf("scoring weights: %w", err)
	}
	sources, gh, err := buildSources(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}
	if len(only) > 0 {
		if sources, err = selectSources(sources, only); err != nil {
			return nil, err
		}
	}
	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	return pipeline.New(db, pipeline.Options{
		Weights:        weights,
		Cluster:        cfg.Cluster.Params(),
		Thresholds:     cfg.Anomaly,
		ThemeWeights:   cfg.Theme.Weights,
		Lifecycle:      cfg.Theme.Lifecycle,
		AlertThreshold: cfg.Scoring.AlertThreshold,
		Sources:        sources,
		Embedder:       embedder,
		Summarizer:     buildSummarizer(cfg, logger),
		Enricher:       buildEnricher(cfg, db, gh, logger),
		Alerts:         buildAlertManager(cfg),
		Logger:         logger.WithPrefix("pipeline"),
	})
}

func selectSources(all []source.Source, names []string) ([]source.Source, error) {
	wanted := make(map[string]bool)
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []source.Source
	for _, s := range all {
		if wanted[string(s.Name())] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no matching sources for: %s", strings.Join(names, ", "))
	}
	return out, nil
}

func runCollect(ctx context.Context, only []string) error {
	cfg, db, logger, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := buildEngine(ctx, cfg, db, logger, only)
	if err != nil {
		return err
	}
	n, err := engine.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	fmt.Fprintf(os.Stderr, "recorded %d founder observations\n", n)
	return nil
}

func runEnrich(ctx context.Context) error {
	cfg, db, logger, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := buildEngine(ctx, cfg, db, logger, nil)
	if err != nil {
		return err
	}
	n, err := engine.Enrich(ctx)
	fmt.Fprintf(os.Stderr, "enriched %d founders\n", n)
	return err
}

func runCycle(ctx context.Context, jsonOutput bool) error {
	cfg, db, logger, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := buildEngine(ctx, cfg, db, logger, nil)
	if err != nil {
		return err
	}
	rep, err := engine.RunCycle(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(rep)
	}

	fmt.Printf("cycle %s: scored %d, embedded %d (reused %d, failed %d), themes %d (%d new), events %d, alerts %d\n",
		rep.CycleID, rep.Scored, rep.Embedded, rep.Reused, len(rep.EmbedFailed),
		rep.Themes, rep.NewThemes, len(rep.Events), rep.Alerts)
	if rep.ClusteringSkipped {
		fmt.Println("clustering skipped: not enough embedded founders")
	}
	return printEvents(rep.Events)
}

func runFounders(ctx context.Context, jsonOutput bool, status string, minScore, limit int) error {
	_, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := store.FounderListOpts{MinComposite: minScore, Limit: limit}
	if status != "" {
		if opts.Status, err = store.ParseFounderStatus(status); err != nil {
			return err
		}
	}
	founders, err := db.ListFounders(ctx, opts)
	if err != nil {
		return fmt.Errorf("list founders: %w", err)
	}

	if jsonOutput {
		return printJSON(founders)
	}
	if len(founders) == 0 {
		fmt.Println("no founders found (try collecting data first: scout collect)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tHANDLE\tNAME\tCOMPANY\tSTATUS\tQUAL\tVEL\tCONV\tTRAC\tAVAIL")
	for _, f := range founders {
		d := f.Dimensions
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\n",
			f.Composite, f.Handle, f.Name, f.Company, f.Status,
			d[score.FounderQuality], d[score.ExecutionVelocity], d[score.MarketConviction],
			d[score.EarlyTraction], d[score.DealAvailability])
	}
	return w.Flush()
}

func runThemes(ctx context.Context, jsonOutput bool, stage string, limit int) error {
	_, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	themes, err := db.ListThemes(ctx, store.ThemeListOpts{Stage: theme.Stage(stage), Limit: limit})
	if err != nil {
		return fmt.Errorf("list themes: %w", err)
	}

	if jsonOutput {
		return printJSON(themes)
	}
	if len(themes) == 0 {
		fmt.Println("no themes yet (themes need at least three founders on one topic)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMERGENCE\tSTAGE\tBUILDERS\tVELOCITY\tNAME\tFIRST SEEN")
	for _, t := range themes {
		fmt.Fprintf(w, "%.1f\t%s\t%d\t%+.0f%%\t%s\t%s\n",
			t.EmergenceScore, t.Stage, t.BuilderCount, t.WeeklyVelocity*100, t.Name,
			t.FirstDetected.Format(time.DateOnly))
	}
	return w.Flush()
}

func runEvents(ctx context.Context, jsonOutput bool, status, eventType string, since time.Duration, limit int) error {
	_, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := store.EventListOpts{Type: anomaly.EventType(eventType), Limit: limit}
	if status != "" {
		if opts.Status, err = anomaly.ParseStatus(status); err != nil {
			return err
		}
	}
	if since > 0 {
		opts.Since = time.Now().Add(-since)
	}
	events, err := db.ListEvents(ctx, opts)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if jsonOutput {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}
	return printEvents(events)
}

func runPreview(ctx context.Context, raw map[string]string, limit int) error {
	cfg, db, _, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	weights, err := cfg.Scoring.ParseWeights()
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		m := make(map[string]float64, len(raw))
		for k, v := range raw {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("weight %s: %w", k, err)
			}
			m[k] = f
		}
		if weights, err = score.ParseWeights(m); err != nil {
			return err
		}
	}

	founders, err := db.ListFounders(ctx, store.FounderListOpts{Limit: -1})
	if err != nil {
		return fmt.Errorf("list founders: %w", err)
	}

	type row struct {
		f       store.Founder
		preview int
	}
	rows := make([]row, 0, len(founders))
	for _, f := range founders {
		if f.ScoredAt == nil {
			continue
		}
		c, err := score.Composite(f.Dimensions, weights)
		if err != nil {
			return err
		}
		rows = append(rows, row{f: f, preview: c})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].preview > rows[j].preview })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREVIEW\tCURRENT\tCHANGE\tHANDLE\tNAME")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%d\t%+d\t%s\t%s\n", r.preview, r.f.Composite, r.preview-r.f.Composite, r.f.Handle, r.f.Name)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	cfg, db, logger, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Server.Port
	}
	engine, err := buildEngine(ctx, cfg, db, logger, nil)
	if err != nil {
		return err
	}
	weights, _ := cfg.Scoring.ParseWeights()

	srv := server.New(db, engine, weights, port, logger.WithPrefix("server"))
	return srv.ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	cfg, db, logger, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Server.Port
	}
	engine, err := buildEngine(ctx, cfg, db, logger, nil)
	if err != nil {
		return err
	}
	weights, _ := cfg.Scoring.ParseWeights()

	sched := scheduler.New(engine, cfg.Schedule.ParseCycleInterval(), logger.WithPrefix("scheduler"))
	srv := server.New(db, engine, weights, port, logger.WithPrefix("server"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

func printEvents(events []anomaly.Event) error {
	if len(events) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DETECTED\tTYPE\tENTITY\tBEFORE\tAFTER\tCONF\tSTATUS\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%g\t%g\t%.2f\t%s\t%s\n",
			e.DetectedAt.Format(time.RFC3339), e.Type, e.EntityType, shortID(e.EntityID),
			e.Before, e.After, e.Confidence, e.Status, e.Detail)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
