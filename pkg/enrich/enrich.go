// Package enrich gathers extra facts for high-scoring founders from
// platforms other than the one they were discovered on.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v71/github"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/internal/store"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/source"
)

// Gate decides which founders are worth an enrichment call.
type Gate struct {
	Threshold    int
	RefreshAfter time.Duration
}

// DefaultGate enriches founders at composite 75 or above and refreshes
// tracked founders monthly.
func DefaultGate() Gate {
	return Gate{Threshold: 75, RefreshAfter: 30 * 24 * time.Hour}
}

// Needs reports whether f should be enriched at now. Founders that were
// never enriched qualify on score alone; refreshes are limited to founders
// the user is actively tracking.
func (g Gate) Needs(f store.Founder, now time.Time) bool {
	if f.Composite < g.Threshold {
		return false
	}
	if f.EnrichedAt == nil {
		return true
	}
	if f.Status != store.StatusWatching && f.Status != store.StatusContacted {
		return false
	}
	return now.Sub(*f.EnrichedAt) >= g.RefreshAfter
}

// Enricher looks up one founder on an external platform.
type Enricher interface {
	Name() string
	// Enrich returns the facts found for f. Nil facts with a nil error means
	// the platform has nothing on this founder.
	Enrich(ctx context.Context, f store.Founder) (score.Facts, error)
}

// Runner applies the gate and runs every enricher for qualifying founders.
type Runner struct {
	store       store.Store
	enrichers   []Enricher
	gate        Gate
	concurrency int
	timeout     time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// NewRunner creates a Runner. Zero concurrency or timeout use 4 and 30s.
func NewRunner(s store.Store, enrichers []Enricher, gate Gate, concurrency int, timeout time.Duration, logger *log.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		store:       s,
		enrichers:   enrichers,
		gate:        gate,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logging.OrDiscard(logger),
		now:         time.Now,
	}
}

// Run enriches every qualifying founder and returns how many were stamped.
// A failing enricher is logged and skipped; the founder still gets the facts
// from the others. A founder is stamped only when at least one enricher
// answered, so one whose every call failed is retried next run.
func (r *Runner) Run(ctx context.Context) (int, error) {
	if len(r.enrichers) == 0 {
		return 0, nil
	}
	founders, err := r.store.ListFounders(ctx, store.FounderListOpts{MinComposite: r.gate.Threshold, Limit: -1})
	if err != nil {
		return 0, fmt.Errorf("list founders: %w", err)
	}

	now := r.now()
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, f := range founders {
		if !r.gate.Needs(f, now) {
			continue
		}
		g.Go(func() error {
			facts := score.Facts{}
			answered := false
			for _, e := range r.enrichers {
				found, err := r.enrichOne(gctx, e, f)
				if err != nil {
					r.logger.Warn("enrichment failed", "enricher", e.Name(), "founder_id", f.ID, "err", err)
					continue
				}
				answered = true
				for k, v := range found {
					facts[k] = v
				}
			}
			if !answered {
				return nil
			}
			if err := r.store.ApplyEnrichment(gctx, f.ID, facts, now); err != nil {
				return fmt.Errorf("apply enrichment %s: %w", f.ID, err)
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	if n := done.Load(); n > 0 {
		r.logger.Info("enriched founders", "count", n)
	}
	return int(done.Load()), nil
}

func (r *Runner) enrichOne(ctx context.Context, e Enricher, f store.Founder) (score.Facts, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return e.Enrich(ctx, f)
}

// GitHubEnricher fills GitHub facts for founders found on other platforms,
// assuming the same username.
type GitHubEnricher struct {
	gh *source.GitHub
}

func NewGitHubEnricher(gh *source.GitHub) *GitHubEnricher {
	return &GitHubEnricher{gh: gh}
}

func (e *GitHubEnricher) Name() string { return "github" }

func (e *GitHubEnricher) Enrich(ctx context.Context, f store.Founder) (score.Facts, error) {
	login := strings.TrimPrefix(f.Handle, "@")
	if login == "" {
		return nil, nil
	}
	obs, err := e.gh.Profile(ctx, login)
	if err != nil {
		var ge *github.ErrorResponse
		if errors.As(err, &ge) && ge.Response != nil && ge.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return obs.Facts, nil
}
