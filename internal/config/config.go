package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/cluster"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/enrich"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/theme"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig     `yaml:"database"`
	Schedule   ScheduleConfig     `yaml:"schedule"`
	Sources    SourcesConfig      `yaml:"sources"`
	Filter     FilterConfig       `yaml:"filter"`
	Scoring    ScoringConfig      `yaml:"scoring"`
	Cluster    ClusterConfig      `yaml:"cluster"`
	Anomaly    anomaly.Thresholds `yaml:"anomaly"`
	Embedding  EmbeddingConfig    `yaml:"embedding"`
	Theme      ThemeConfig        `yaml:"theme"`
	Enrichment EnrichmentConfig   `yaml:"enrichment"`
	Alerts     AlertsConfig       `yaml:"alerts"`
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the collect, enrich and cycle loop.
type ScheduleConfig struct {
	CycleInterval string `yaml:"cycle_interval"`
}

// ParseCycleInterval returns the cycle interval as time.Duration.
func (s ScheduleConfig) ParseCycleInterval() time.Duration {
	d, err := time.ParseDuration(s.CycleInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// SourcesConfig holds configuration for all collectors.
type SourcesConfig struct {
	GitHub      GitHubConfig      `yaml:"github"`
	HackerNews  HackerNewsConfig  `yaml:"hackernews"`
	ProductHunt ProductHuntConfig `yaml:"producthunt"`
	YC          YCConfig          `yaml:"yc"`
}

// GitHubConfig for the GitHub repo search collector and enricher.
type GitHubConfig struct {
	Enabled bool     `yaml:"enabled"`
	Token   string   `yaml:"token"`
	BaseURL string   `yaml:"base_url"` // GitHub Enterprise API root (optional)
	Queries []string `yaml:"queries"`
}

// HackerNewsConfig for the Show HN collector.
type HackerNewsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Terms   []string `yaml:"terms"`
}

// ProductHuntConfig for the Product Hunt collector. Vote counts need an API
// token; without one only the public feed is read.
type ProductHuntConfig struct {
	Enabled bool   `yaml:"enabled"`
	FeedURL string `yaml:"feed_url"`
	Token   string `yaml:"token"`
	APIURL  string `yaml:"api_url"`
}

// YCConfig for the YC company directory collector. Empty Batches means the
// current and previous batch.
type YCConfig struct {
	Enabled bool     `yaml:"enabled"`
	Batches []string `yaml:"batches"`
	URL     string   `yaml:"url"`
}

// FilterConfig configures collector keyword filtering.
type FilterConfig struct {
	ExtraKeywords   []string `yaml:"extra_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// ScoringConfig configures the composite score.
type ScoringConfig struct {
	Weights        map[string]float64 `yaml:"weights"`
	AlertThreshold int                `yaml:"alert_threshold"`
}

// ParseWeights validates the weight table. An empty table means the default
// 0.30/0.25/0.20/0.15/0.10 split; a partial table weighs missing dimensions
// zero.
func (s ScoringConfig) ParseWeights() (score.Weights, error) {
	if len(s.Weights) == 0 {
		return score.DefaultWeights(), nil
	}
	return score.ParseWeights(s.Weights)
}

// ClusterConfig configures theme clustering.
type ClusterConfig struct {
	MinClusterSize      int     `yaml:"min_cluster_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RollingWindowDays   int     `yaml:"rolling_window_days"`
}

// Params converts the section to cluster parameters.
func (c ClusterConfig) Params() cluster.Params {
	return cluster.Params{
		MinClusterSize: c.MinClusterSize,
		Threshold:      c.SimilarityThreshold,
		Window:         time.Duration(c.RollingWindowDays) * 24 * time.Hour,
	}
}

// EmbeddingConfig configures the external embedding model.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // "ollama" or "openai"
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Concurrency int    `yaml:"concurrency"`
	Timeout     string `yaml:"timeout"`
	MaxChars    int    `yaml:"max_chars"`
	TopN        int    `yaml:"top_n"`
}

// ParseTimeout returns the per-call embedding timeout.
func (e EmbeddingConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TextOptions returns the profile text settings.
func (e EmbeddingConfig) TextOptions() embed.TextOptions {
	return embed.TextOptions{TopN: e.TopN, MaxChars: e.MaxChars}
}

// ThemeConfig configures theme scoring, lifecycle and naming.
type ThemeConfig struct {
	Weights   theme.Weights   `yaml:"weights"`
	Lifecycle theme.Lifecycle `yaml:"lifecycle"`
	LLM       LLMConfig       `yaml:"llm"`
}

// LLMConfig configures the optional theme summarizer.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
}

// EnrichmentConfig configures the cross-platform enrichment gate.
type EnrichmentConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ScoreThreshold int    `yaml:"score_threshold"`
	RefreshDays    int    `yaml:"refresh_days"`
	Concurrency    int    `yaml:"concurrency"`
	Timeout        string `yaml:"timeout"`
}

// Gate converts the section to an enrichment gate.
func (e EnrichmentConfig) Gate() enrich.Gate {
	return enrich.Gate{
		Threshold:    e.ScoreThreshold,
		RefreshAfter: time.Duration(e.RefreshDays) * 24 * time.Hour,
	}
}

// ParseTimeout returns the per-call enrichment timeout.
func (e EnrichmentConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic signed webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	cp := cluster.DefaultParams()
	gate := enrich.DefaultGate()
	text := embed.DefaultTextOptions()

	return &Config{
		Database: DatabaseConfig{Path: "./scout.db"},
		Schedule: ScheduleConfig{CycleInterval: "1h"},
		Sources: SourcesConfig{
			GitHub:      GitHubConfig{Enabled: true},
			HackerNews:  HackerNewsConfig{Enabled: true},
			ProductHunt: ProductHuntConfig{Enabled: true},
			YC:          YCConfig{Enabled: true},
		},
		Scoring: ScoringConfig{AlertThreshold: 85},
		Cluster: ClusterConfig{
			MinClusterSize:      cp.MinClusterSize,
			SimilarityThreshold: cp.Threshold,
			RollingWindowDays:   int(cp.Window / (24 * time.Hour)),
		},
		Anomaly: anomaly.DefaultThresholds(),
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			Model:       "nomic-embed-text",
			Concurrency: 4,
			Timeout:     "30s",
			MaxChars:    text.MaxChars,
			TopN:        text.TopN,
		},
		Theme: ThemeConfig{
			Weights:   theme.DefaultWeights(),
			Lifecycle: theme.DefaultLifecycle(),
			LLM: LLMConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
			},
		},
		Enrichment: EnrichmentConfig{
			Enabled:        true,
			ScoreThreshold: gate.Threshold,
			RefreshDays:    int(gate.RefreshAfter / (24 * time.Hour)),
			Concurrency:    4,
			Timeout:        "20s",
		},
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCOUT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SCOUT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Sources.GitHub.Token = v
	}
	if v := os.Getenv("PRODUCTHUNT_TOKEN"); v != "" {
		cfg.Sources.ProductHunt.Token = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Theme.LLM.APIKey = v
		cfg.Theme.LLM.Enabled = true
		cfg.Theme.LLM.Provider = "openai"
		if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Theme.LLM.APIKey = v
		cfg.Theme.LLM.Enabled = true
		cfg.Theme.LLM.Provider = "anthropic"
	}
}

var ycBatch = regexp.MustCompile(`^[WSFXwsfx]\d{2}$`)

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := c.Scoring.ParseWeights(); err != nil {
		errs = append(errs, fmt.Errorf("scoring.weights: %w", err))
	}
	if t := c.Scoring.AlertThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("scoring.alert_threshold %d outside 0-100", t))
	}
	if c.Cluster.MinClusterSize < 2 {
		errs = append(errs, fmt.Errorf("cluster.min_cluster_size %d must be at least 2", c.Cluster.MinClusterSize))
	}
	if t := c.Cluster.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("cluster.similarity_threshold %g outside (0, 1]", t))
	}
	if c.Cluster.RollingWindowDays <= 0 {
		errs = append(errs, errors.New("cluster.rolling_window_days must be positive"))
	}
	if c.Anomaly.CommitMultiplier <= 0 || c.Anomaly.ThemeGrowth <= 0 {
		errs = append(errs, errors.New("anomaly multipliers must be positive"))
	}
	switch c.Embedding.Provider {
	case "", "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not ollama or openai", c.Embedding.Provider))
	}
	if c.Embedding.Concurrency < 0 || c.Embedding.MaxChars < 0 || c.Embedding.TopN < 0 {
		errs = append(errs, errors.New("embedding limits must not be negative"))
	}
	w := c.Theme.Weights
	if w.Density < 0 || w.Velocity < 0 || w.Composite < 0 || w.Independence < 0 || w.Novelty < 0 {
		errs = append(errs, errors.New("theme.weights must not be negative"))
	}
	l := c.Theme.Lifecycle
	if l.EmergingAt <= 0 || l.EmergingAt > l.EstablishedAt || l.EstablishedAt > l.SaturatedAt {
		errs = append(errs, fmt.Errorf("theme.lifecycle thresholds %d/%d/%d must be positive and ascending",
			l.EmergingAt, l.EstablishedAt, l.SaturatedAt))
	}
	if t := c.Enrichment.ScoreThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("enrichment.score_threshold %d outside 0-100", t))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is invalid", c.Server.Port))
	}
	for _, b := range c.Sources.YC.Batches {
		if !ycBatch.MatchString(b) {
			errs = append(errs, fmt.Errorf("sources.yc.batches: %q is not a batch code like W26", b))
		}
	}
	return errors.Join(errs...)
}
