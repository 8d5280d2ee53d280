package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elonfeng/scout/pkg/score"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	w, err := cfg.Scoring.ParseWeights()
	if err != nil || w != score.DefaultWeights() {
		t.Errorf("weights = %v, %v", w, err)
	}
	if got := cfg.Schedule.ParseCycleInterval(); got != time.Hour {
		t.Errorf("cycle interval = %v", got)
	}
	p := cfg.Cluster.Params()
	if p.MinClusterSize != 3 || p.Threshold != 0.72 || p.Window != 14*24*time.Hour {
		t.Errorf("cluster params = %+v", p)
	}
	g := cfg.Enrichment.Gate()
	if g.Threshold != 75 || g.RefreshAfter != 30*24*time.Hour {
		t.Errorf("gate = %+v", g)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("SCOUT_DB_PATH", "")
	path := writeConfig(t, `
database:
  path: /tmp/scout-test.db
schedule:
  cycle_interval: 30m
scoring:
  weights:
    founder_quality: 2
    execution_velocity: 1
  alert_threshold: 90
cluster:
  similarity_threshold: 0.8
anomaly:
  hn_score: 150
  cooldown: 12h
embedding:
  provider: openai
  timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/scout-test.db" || cfg.Scoring.AlertThreshold != 90 {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.Schedule.ParseCycleInterval(); got != 30*time.Minute {
		t.Errorf("cycle interval = %v", got)
	}
	w, err := cfg.Scoring.ParseWeights()
	if err != nil {
		t.Fatal(err)
	}
	if w[score.FounderQuality] != 2 || w[score.ExecutionVelocity] != 1 || w[score.DealAvailability] != 0 {
		t.Errorf("weights = %v", w)
	}
	if cfg.Cluster.SimilarityThreshold != 0.8 || cfg.Cluster.MinClusterSize != 3 {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Anomaly.HNScore != 150 || cfg.Anomaly.Cooldown != 12*time.Hour || cfg.Anomaly.CommitFloor != 5 {
		t.Errorf("anomaly = %+v", cfg.Anomaly)
	}
	if cfg.Embedding.ParseTimeout() != 5*time.Second || cfg.Embedding.TopN != 5 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCOUT_DB_PATH", "/data/scout.db")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("PRODUCTHUNT_TOKEN", "ph_test")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("SCOUT_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path != "/data/scout.db" || cfg.Sources.GitHub.Token != "ghp_test" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Sources.ProductHunt.Token != "ph_test" {
		t.Errorf("producthunt token = %q", cfg.Sources.ProductHunt.Token)
	}
	if !cfg.Alerts.Slack.Enabled || cfg.Alerts.Slack.WebhookURL != "https://hooks.slack.test/x" {
		t.Errorf("slack = %+v", cfg.Alerts.Slack)
	}
	if !cfg.Theme.LLM.Enabled || cfg.Theme.LLM.Provider != "anthropic" {
		t.Errorf("llm = %+v", cfg.Theme.LLM)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative weight", func(c *Config) { c.Scoring.Weights = map[string]float64{"founder_quality": -1} }, "scoring.weights"},
		{"zero weights", func(c *Config) { c.Scoring.Weights = map[string]float64{"founder_quality": 0} }, "scoring.weights"},
		{"unknown dimension", func(c *Config) { c.Scoring.Weights = map[string]float64{"charm": 1} }, "scoring.weights"},
		{"alert threshold", func(c *Config) { c.Scoring.AlertThreshold = 101 }, "alert_threshold"},
		{"cluster size", func(c *Config) { c.Cluster.MinClusterSize = 1 }, "min_cluster_size"},
		{"similarity", func(c *Config) { c.Cluster.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"provider", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding.provider"},
		{"lifecycle order", func(c *Config) { c.Theme.Lifecycle.EstablishedAt = 20 }, "theme.lifecycle"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"yc batch", func(c *Config) { c.Sources.YC.Batches = []string{"W26", "Winter 2026"} }, "sources.yc.batches"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
