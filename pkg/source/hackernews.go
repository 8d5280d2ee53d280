package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
)

const (
	algoliaBaseURL  = "https://hn.algolia.com/api/v1"
	firebaseBaseURL = "https://hacker-news.firebaseio.com/v0"

	showHNMinPoints  = 50
	hnStrongPoints   = 200
	hnLookback       = 90 * 24 * time.Hour
	hnUserPostsLimit = 30
)

// DefaultHNTerms are the Show HN search terms.
var DefaultHNTerms = []string{
	"", "API", "AI", "infrastructure", "SaaS", "open source", "developer tools",
	"startup", "B2B", "fintech", "healthtech", "database", "security", "analytics",
}

// HackerNews discovers founders from well-received Show HN and launch posts.
type HackerNews struct {
	client      *http.Client
	algoliaURL  string
	firebaseURL string
	terms       []string
	filter      *Filter
	logger      *log.Logger
	now         func() time.Time
}

// NewHackerNews creates an HN collector. Empty terms use DefaultHNTerms.
func NewHackerNews(terms []string, filter *Filter, logger *log.Logger) *HackerNews {
	if len(terms) == 0 {
		terms = DefaultHNTerms
	}
	return &HackerNews{
		client:      &http.Client{Timeout: 30 * time.Second},
		algoliaURL:  algoliaBaseURL,
		firebaseURL: firebaseBaseURL,
		terms:       terms,
		filter:      filter,
		logger:      logging.OrDiscard(logger),
		now:         time.Now,
	}
}

// WithBaseURLs points the collector at other Algolia and Firebase roots.
func (h *HackerNews) WithBaseURLs(algolia, firebase string) *HackerNews {
	h.algoliaURL = strings.TrimRight(algolia, "/")
	h.firebaseURL = strings.TrimRight(firebase, "/")
	return h
}

func (h *HackerNews) Name() SourceType { return SourceHackerNews }

type hnHit struct {
	ObjectID  string `json:"objectID"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Points    int    `json:"points"`
	CreatedAt int64  `json:"created_at_i"`
}

type hnUser struct {
	ID      string `json:"id"`
	Karma   int    `json:"karma"`
	About   string `json:"about"`
	Created int64  `json:"created"`
}

// Collect searches Show HN posts for each term plus launch queries for the
// current incubator batches, then profiles each distinct author.
func (h *HackerNews) Collect(ctx context.Context) ([]Observation, error) {
	var (
		authors []string
		seen    = make(map[string]bool)
		lastErr error
		okCount int
	)
	add := func(hits []hnHit) {
		for _, hit := range hits {
			key := strings.ToLower(hit.Author)
			if hit.Author == "" || seen[key] {
				continue
			}
			seen[key] = true
			authors = append(authors, hit.Author)
		}
	}

	for _, term := range h.terms {
		hits, err := h.search(ctx, term, "show_hn", showHNMinPoints)
		if err != nil {
			h.logger.Warn("hn search failed", "term", term, "err", err)
			lastErr = err
			continue
		}
		okCount++
		add(hits)
	}
	for _, q := range IncubatorQueries(h.now()) {
		hits, err := h.search(ctx, q, "story", 10)
		if err != nil {
			h.logger.Warn("hn incubator search failed", "query", q, "err", err)
			lastErr = err
			continue
		}
		okCount++
		add(hits)
	}
	if okCount == 0 && lastErr != nil {
		return nil, fmt.Errorf("hn search: %w", lastErr)
	}

	var (
		mu  sync.Mutex
		out []Observation
		wg  sync.WaitGroup
		sem = make(chan struct{}, 10)
	)
	for _, author := range authors {
		wg.Add(1)
		go func(author string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			obs, err := h.Profile(ctx, author)
			if err != nil {
				h.logger.Warn("hn profile failed", "user", author, "err", err)
				return
			}
			if !h.filter.Keep(obs) {
				return
			}
			mu.Lock()
			out = append(out, obs)
			mu.Unlock()
		}(author)
	}
	wg.Wait()
	return out, nil
}

// Profile builds an observation for one HN user from their karma and recent
// stories.
func (h *HackerNews) Profile(ctx context.Context, author string) (Observation, error) {
	var user hnUser
	if err := h.getJSON(ctx, fmt.Sprintf("%s/user/%s.json", h.firebaseURL, url.PathEscape(author)), &user); err != nil {
		return Observation{}, err
	}
	if user.ID == "" {
		return Observation{}, fmt.Errorf("hn user %s not found", author)
	}

	var posts struct {
		Hits []hnHit `json:"hits"`
	}
	params := url.Values{}
	params.Set("tags", "author_"+author+",story")
	params.Set("hitsPerPage", fmt.Sprint(hnUserPostsLimit))
	if err := h.getJSON(ctx, h.algoliaURL+"/search?"+params.Encode(), &posts); err != nil {
		h.logger.Debug("hn user posts unavailable", "user", author, "err", err)
	}

	obs := Observation{
		Source:     SourceHackerNews,
		Handle:     Handle(author),
		SourceID:   author,
		ProfileURL: "https://news.ycombinator.com/user?id=" + author,
		Name:       author,
		Bio:        truncate(stripHTML(user.About), 500),
		Facts: score.Facts{
			score.FactHNKarma:       float64(user.Karma),
			score.FactHNSubmissions: float64(len(posts.Hits)),
		},
	}

	var best int
	labels := []string{obs.Bio}
	for _, p := range posts.Hits {
		if p.Points > best {
			best = p.Points
		}
		if at := time.Unix(p.CreatedAt, 0).UTC(); at.After(obs.ActiveAt) {
			obs.ActiveAt = at
		}
		if strings.TrimSpace(p.Title) != "" && h.filter.Matches(p.Title) {
			obs.Posts = append(obs.Posts, embed.WeightedText{Text: p.Title, Weight: float64(p.Points)})
		}
		if p.Points >= showHNMinPoints || isLaunchTitle(p.Title) {
			sig := Signal{
				Label:  fmt.Sprintf("%s: %d pts", postLabel(p.Title), p.Points),
				URL:    "https://news.ycombinator.com/item?id=" + p.ObjectID,
				Strong: p.Points >= hnStrongPoints,
			}
			obs.Signals = append(obs.Signals, sig)
			labels = append(labels, p.Title)
		}
	}
	obs.Facts[score.FactHNTopScore] = float64(best)
	obs.Incubator = score.DetectIncubator(labels...)
	return obs, nil
}

func (h *HackerNews) search(ctx context.Context, query, tags string, minPoints int) ([]hnHit, error) {
	cutoff := h.now().Add(-hnLookback).Unix()
	params := url.Values{}
	params.Set("query", query)
	params.Set("tags", tags)
	params.Set("numericFilters", fmt.Sprintf("points>%d,created_at_i>%d", minPoints, cutoff))
	params.Set("hitsPerPage", "50")

	var res struct {
		Hits []hnHit `json:"hits"`
	}
	if err := h.getJSON(ctx, h.algoliaURL+"/search?"+params.Encode(), &res); err != nil {
		return nil, err
	}
	return res.Hits, nil
}

func (h *HackerNews) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create hn request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hn status %d for %s", resp.StatusCode, u)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

// IncubatorQueries returns launch searches for the current and two previous
// YC batches plus the other accelerators. Winter batches run January to June.
func IncubatorQueries(now time.Time) []string {
	yy := now.Year() % 100
	var batches []string
	if now.Month() <= time.June {
		batches = []string{fmt.Sprintf("W%02d", yy), fmt.Sprintf("S%02d", yy-1), fmt.Sprintf("W%02d", yy-1)}
	} else {
		batches = []string{fmt.Sprintf("S%02d", yy), fmt.Sprintf("W%02d", yy), fmt.Sprintf("S%02d", yy-1)}
	}
	qs := []string{"Launch YC"}
	for _, b := range batches {
		qs = append(qs, "YC "+b)
	}
	return append(qs, "500 Global", "Plug and Play", "Techstars", "a16z speedrun", "HF0", "Pioneer")
}

func isLaunchTitle(title string) bool {
	return strings.HasPrefix(strings.ToLower(title), "launch")
}

func postLabel(title string) string {
	lower := strings.ToLower(title)
	prefix := "HN"
	switch {
	case strings.HasPrefix(lower, "show hn"):
		prefix = "Show HN"
	case strings.HasPrefix(lower, "ask hn"):
		prefix = "Ask HN"
	case strings.HasPrefix(lower, "launch hn"), strings.HasPrefix(lower, "launch yc"):
		return strings.TrimSpace(title)
	case strings.HasPrefix(lower, "launch"):
		prefix = "Launch"
	}
	if i := strings.Index(title, ":"); i >= 0 {
		title = title[i+1:]
	}
	return prefix + ": " + strings.TrimSpace(title)
}

var entityReplacer = strings.NewReplacer("&#x27;", "'", "&#x2F;", "/", "&quot;", `"`, "&gt;", ">", "&lt;", "<", "&amp;", "&")

func stripHTML(s string) string {
	s = strings.ReplaceAll(s, "<p>", "\n")
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(entityReplacer.Replace(b.String()))
}
