package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
)

const (
	productHuntFeedURL = "https://www.producthunt.com/feed"
	productHuntAPIURL  = "https://api.producthunt.com/v2/api/graphql"
)

// ProductHunt collects recent launches. With an API token it reads posts and
// their vote counts from the GraphQL API; without one it falls back to the
// public feed, which carries no votes, so ph_upvotes keeps whatever was
// stored before.
type ProductHunt struct {
	client  *http.Client
	parser  *gofeed.Parser
	feedURL string
	apiURL  string
	token   string
	pages   int
	maxAge  time.Duration
	filter  *Filter
	logger  *log.Logger
	now     func() time.Time
}

// NewProductHunt creates a Product Hunt collector. An empty feedURL uses the
// public feed.
func NewProductHunt(feedURL string, filter *Filter, logger *log.Logger) *ProductHunt {
	if feedURL == "" {
		feedURL = productHuntFeedURL
	}
	return &ProductHunt{
		client:  &http.Client{Timeout: 30 * time.Second},
		parser:  gofeed.NewParser(),
		feedURL: feedURL,
		apiURL:  productHuntAPIURL,
		pages:   3,
		maxAge:  30 * 24 * time.Hour,
		filter:  filter,
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
	}
}

// WithAPI enables the GraphQL path. An empty apiURL keeps the public
// endpoint; an empty token leaves the collector on the feed.
func (p *ProductHunt) WithAPI(token, apiURL string) *ProductHunt {
	p.token = token
	if apiURL != "" {
		p.apiURL = strings.TrimRight(apiURL, "/")
	}
	return p
}

func (p *ProductHunt) Name() SourceType { return SourceProductHunt }

// Collect emits one observation per maker. The API is preferred when a token
// is configured; if it fails the feed is read instead.
func (p *ProductHunt) Collect(ctx context.Context) ([]Observation, error) {
	if p.token != "" {
		obs, err := p.collectAPI(ctx)
		if err == nil {
			return obs, nil
		}
		p.logger.Warn("producthunt api failed, reading feed", "err", err)
	}
	return p.collectFeed(ctx)
}

func (p *ProductHunt) collectFeed(ctx context.Context) ([]Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create producthunt request: %w", err)
	}
	req.Header.Set("User-Agent", "scout/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch producthunt feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("producthunt feed status %d", resp.StatusCode)
	}

	feed, err := p.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse producthunt feed: %w", err)
	}

	cutoff := p.now().Add(-p.maxAge)
	byMaker := make(map[string]*Observation)
	for _, entry := range feed.Items {
		published := p.now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}
		if published.Before(cutoff) {
			continue
		}

		maker := ""
		if entry.Author != nil {
			maker = entry.Author.Name
		} else if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			maker = entry.Authors[0].Name
		}
		handle := Handle(slug(maker))
		if handle == "" {
			continue
		}

		obs, ok := byMaker[handle]
		if !ok {
			obs = &Observation{
				Source:     SourceProductHunt,
				Handle:     handle,
				SourceID:   slug(maker),
				ProfileURL: "https://www.producthunt.com/@" + slug(maker),
				Name:       maker,
				Facts:      score.Facts{},
			}
			byMaker[handle] = obs
		}

		title := strings.TrimSpace(entry.Title)
		text := title
		desc := entry.Description
		if desc == "" {
			desc = entry.Content
		}
		if desc = truncate(stripHTML(desc), 200); desc != "" {
			text = title + ": " + desc
		}
		if p.filter.Matches(text) {
			obs.Posts = append(obs.Posts, embed.WeightedText{Text: text, Weight: 1})
		}
		obs.Signals = append(obs.Signals, Signal{
			Label: fmt.Sprintf("Launched %s on Product Hunt", title),
			URL:   entry.Link,
		})
		obs.Facts[score.FactPHLaunches]++
		if published.After(obs.ActiveAt) {
			obs.ActiveAt = published
		}
	}

	out := p.kept(byMaker)
	p.logger.Debug("producthunt feed parsed", "entries", len(feed.Items), "makers", len(out))
	return out, nil
}

// kept returns the grouped observations that pass the filter, by handle.
func (p *ProductHunt) kept(byMaker map[string]*Observation) []Observation {
	handles := make([]string, 0, len(byMaker))
	for h := range byMaker {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	out := make([]Observation, 0, len(handles))
	for _, h := range handles {
		if obs := *byMaker[h]; p.filter.Keep(obs) {
			out = append(out, obs)
		}
	}
	return out
}

// slug lowercases a display name and drops everything but letters, digits,
// dashes and underscores.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
