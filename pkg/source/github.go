package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v71/github"
	"golang.org/x/oauth2"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
)

const (
	strongStars     = 500
	notableStars    = 50
	strongCommits   = 300
	notableCommits  = 100
	githubLookback  = 90 * 24 * time.Hour
	githubUserLimit = 4
)

// DefaultGitHubQueries are repo searches that surface active builders. The
// placeholder {since} is replaced by the lookback date.
var DefaultGitHubQueries = []string{
	"stars:>100 pushed:>{since} topic:ai",
	"stars:>100 pushed:>{since} topic:saas",
	"stars:>100 pushed:>{since} topic:api",
	"stars:>100 pushed:>{since} topic:infrastructure",
	"stars:>50 pushed:>{since} topic:devtools",
}

// NewGitHubClient returns a go-github client, authenticated when token is set.
// A non-empty baseURL points it at another API root, such as a test server.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(hc)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// GitHub discovers founders through repository search and profiles each
// repo owner.
type GitHub struct {
	client  *github.Client
	queries []string
	perPage int
	filter  *Filter
	logger  *log.Logger
	now     func() time.Time
}

// NewGitHub creates a GitHub collector. Empty queries use DefaultGitHubQueries.
func NewGitHub(client *github.Client, queries []string, filter *Filter, logger *log.Logger) *GitHub {
	if len(queries) == 0 {
		queries = DefaultGitHubQueries
	}
	return &GitHub{
		client:  client,
		queries: queries,
		perPage: 30,
		filter:  filter,
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
	}
}

func (g *GitHub) Name() SourceType { return SourceGitHub }

// Collect runs every search query and profiles each distinct user owner.
// A failing query is logged and skipped; only a total failure is an error.
func (g *GitHub) Collect(ctx context.Context) ([]Observation, error) {
	since := g.now().Add(-githubLookback).Format("2006-01-02")

	var (
		owners  []string
		seen    = make(map[string]bool)
		lastErr error
		okCount int
	)
	for _, q := range g.queries {
		query := strings.ReplaceAll(q, "{since}", since)
		res, _, err := g.client.Search.Repositories(ctx, query, &github.SearchOptions{
			Sort:        "stars",
			Order:       "desc",
			ListOptions: github.ListOptions{PerPage: g.perPage},
		})
		if err != nil {
			g.logger.Warn("github search failed", "query", query, "err", err)
			lastErr = err
			continue
		}
		okCount++
		for _, repo := range res.Repositories {
			owner := repo.GetOwner()
			login := owner.GetLogin()
			if login == "" || owner.GetType() == "Organization" || seen[strings.ToLower(login)] {
				continue
			}
			seen[strings.ToLower(login)] = true
			owners = append(owners, login)
		}
	}
	if okCount == 0 && lastErr != nil {
		return nil, fmt.Errorf("github search: %w", lastErr)
	}

	var (
		mu  sync.Mutex
		out []Observation
		wg  sync.WaitGroup
		sem = make(chan struct{}, githubUserLimit)
	)
	for _, login := range owners {
		wg.Add(1)
		go func(login string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			obs, err := g.Profile(ctx, login)
			if err != nil {
				g.logger.Warn("github profile failed", "user", login, "err", err)
				return
			}
			if !g.filter.Keep(obs) {
				return
			}
			mu.Lock()
			out = append(out, obs)
			mu.Unlock()
		}(login)
	}
	wg.Wait()
	return out, nil
}

// Profile builds an observation for one GitHub user: followers, public repos,
// total stars over owned non-fork repos and commits in the last 90 days.
func (g *GitHub) Profile(ctx context.Context, login string) (Observation, error) {
	user, _, err := g.client.Users.Get(ctx, login)
	if err != nil {
		return Observation{}, fmt.Errorf("get user %s: %w", login, err)
	}

	obs := Observation{
		Source:     SourceGitHub,
		Handle:     Handle(login),
		SourceID:   login,
		ProfileURL: user.GetHTMLURL(),
		Name:       user.GetName(),
		Company:    strings.TrimPrefix(user.GetCompany(), "@"),
		Bio:        truncate(user.GetBio(), 500),
		Location:   user.GetLocation(),
		Facts: score.Facts{
			score.FactFollowers:   float64(user.GetFollowers()),
			score.FactPublicRepos: float64(user.GetPublicRepos()),
		},
	}
	if obs.Name == "" {
		obs.Name = login
	}

	repos, _, err := g.client.Repositories.ListByUser(ctx, login, &github.RepositoryListByUserOptions{
		Type:        "owner",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		g.logger.Debug("github repos unavailable", "user", login, "err", err)
	}

	var stars int
	for _, r := range repos {
		if r.GetFork() {
			continue
		}
		n := r.GetStargazersCount()
		stars += n
		if pushed := r.GetPushedAt().Time; pushed.After(obs.ActiveAt) {
			obs.ActiveAt = pushed
		}
		if d := strings.TrimSpace(r.GetDescription()); d != "" && g.filter.Matches(d) {
			obs.Repos = append(obs.Repos, embed.WeightedText{Text: d, Weight: float64(n)})
		}
		if n >= notableStars {
			obs.Signals = append(obs.Signals, Signal{
				Label:  fmt.Sprintf("%s: %d stars", r.GetName(), n),
				URL:    r.GetHTMLURL(),
				Strong: n >= strongStars,
			})
		}
	}
	obs.Facts[score.FactGitHubStars] = float64(stars)

	commits, err := g.commits90d(ctx, login)
	if err != nil {
		g.logger.Debug("github commit search failed", "user", login, "err", err)
	} else {
		obs.Facts[score.FactCommits90d] = float64(commits)
		if commits >= notableCommits {
			obs.Signals = append(obs.Signals, Signal{
				Label:  fmt.Sprintf("%d commits in 90 days", commits),
				Strong: commits >= strongCommits,
			})
		}
	}

	if obs.ActiveAt.IsZero() {
		obs.ActiveAt = user.GetUpdatedAt().Time
	}
	obs.Incubator = score.DetectIncubator(obs.Bio)
	return obs, nil
}

func (g *GitHub) commits90d(ctx context.Context, login string) (int, error) {
	since := g.now().Add(-githubLookback).Format("2006-01-02")
	res, _, err := g.client.Search.Commits(ctx,
		fmt.Sprintf("author:%s committer-date:>%s", login, since),
		&github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}})
	if err != nil {
		return 0, err
	}
	return res.GetTotal(), nil
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
