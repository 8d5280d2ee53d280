package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
)

const (
	phPerPage      = 20
	phNotableVotes = 100
	phStrongVotes  = 500
)

const phPostsQuery = `query($first: Int!, $after: String, $postedAfter: DateTime) {
  posts(first: $first, after: $after, order: VOTES, postedAfter: $postedAfter) {
    edges { node {
      id name tagline slug url website votesCount createdAt featuredAt
      makers { id name username headline twitterUsername websiteUrl }
    } }
    pageInfo { hasNextPage endCursor }
  }
}`

type phMaker struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Headline   string `json:"headline"`
	WebsiteURL string `json:"websiteUrl"`
}

type phPost struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Tagline    string     `json:"tagline"`
	Slug       string     `json:"slug"`
	URL        string     `json:"url"`
	Website    string     `json:"website"`
	VotesCount int        `json:"votesCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	FeaturedAt *time.Time `json:"featuredAt"`
	Makers     []phMaker  `json:"makers"`
}

type phPostsPage struct {
	Posts struct {
		Edges []struct {
			Node phPost `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"posts"`
}

// collectAPI pages through the top posts of the lookback window by votes.
// Each maker's ph_upvotes is the sum of votes over their posts in the
// window and ph_launches is the post count. Posts whose makers are hidden
// are attributed to the product itself.
func (p *ProductHunt) collectAPI(ctx context.Context) ([]Observation, error) {
	byMaker := make(map[string]*Observation)
	var (
		cursor string
		posts  int
	)
	for page := 0; page < p.pages; page++ {
		vars := map[string]any{
			"first":       phPerPage,
			"postedAfter": p.now().Add(-p.maxAge).UTC().Format(time.RFC3339),
		}
		if cursor != "" {
			vars["after"] = cursor
		}
		var res phPostsPage
		if err := p.graphql(ctx, phPostsQuery, vars, &res); err != nil {
			if page == 0 {
				return nil, err
			}
			p.logger.Warn("producthunt page failed", "page", page, "err", err)
			break
		}
		for _, e := range res.Posts.Edges {
			posts++
			p.addPost(byMaker, e.Node)
		}
		if !res.Posts.PageInfo.HasNextPage {
			break
		}
		cursor = res.Posts.PageInfo.EndCursor
	}

	out := p.kept(byMaker)
	p.logger.Debug("producthunt api read", "posts", posts, "makers", len(out))
	return out, nil
}

func (p *ProductHunt) addPost(byMaker map[string]*Observation, post phPost) {
	text := strings.TrimSpace(post.Name)
	if tag := strings.TrimSpace(post.Tagline); tag != "" {
		text += ": " + tag
	}
	sig := Signal{URL: post.URL, Strong: post.VotesCount >= phStrongVotes || post.FeaturedAt != nil}
	if post.FeaturedAt != nil {
		sig.Label = "Product of the Day: " + post.Name
	} else {
		sig.Label = fmt.Sprintf("%s: %d upvotes on Product Hunt", post.Name, post.VotesCount)
	}

	makers := post.Makers
	if len(makers) == 0 {
		makers = []phMaker{{}}
	}
	seen := make(map[string]bool, len(makers))
	for _, m := range makers {
		handle, sourceID, profile := makerIdentity(m, post)
		if handle == "" || seen[handle] {
			continue
		}
		seen[handle] = true
		obs, ok := byMaker[handle]
		if !ok {
			obs = &Observation{
				Source:     SourceProductHunt,
				Handle:     handle,
				SourceID:   sourceID,
				ProfileURL: profile,
				Name:       m.Name,
				Bio:        truncate(m.Headline, 500),
				Facts:      score.Facts{score.FactPHUpvotes: 0, score.FactPHLaunches: 0},
			}
			if m.Username == "" {
				obs.Name = post.Name
				obs.Company = post.Name
				obs.Bio = truncate(post.Tagline, 500)
			}
			byMaker[handle] = obs
		}
		obs.Facts[score.FactPHUpvotes] += float64(post.VotesCount)
		obs.Facts[score.FactPHLaunches]++
		if p.filter.Matches(text) {
			obs.Posts = append(obs.Posts, embed.WeightedText{Text: text, Weight: float64(post.VotesCount)})
		}
		if post.VotesCount >= phNotableVotes || post.FeaturedAt != nil {
			obs.Signals = append(obs.Signals, sig)
		}
		if at := post.CreatedAt.UTC(); at.After(obs.ActiveAt) {
			obs.ActiveAt = at
		}
	}
}

var githubUserURL = regexp.MustCompile(`(?i)github\.com/([A-Za-z0-9-]+)(?:[/?#]|$)`)

var githubNonUserPaths = map[string]bool{
	"features": true, "pricing": true, "enterprise": true, "topics": true, "trending": true,
	"explore": true, "settings": true, "orgs": true, "about": true, "security": true, "login": true,
}

// makerIdentity picks the founder handle for a maker. A GitHub profile on
// the maker's website wins so the launch merges with the GitHub founder;
// otherwise the Product Hunt username is used. Hidden makers fall back to a
// product handle.
func makerIdentity(m phMaker, post phPost) (handle, sourceID, profile string) {
	if gh := githubUser(m.WebsiteURL); gh != "" {
		return Handle(gh), m.Username, "https://www.producthunt.com/@" + m.Username
	}
	if m.Username != "" {
		return Handle(m.Username), m.Username, "https://www.producthunt.com/@" + m.Username
	}
	if gh := githubUser(post.Website); gh != "" {
		return Handle(gh), post.ID, post.URL
	}
	if post.Slug != "" {
		return Handle("ph-" + post.Slug), post.ID, post.URL
	}
	return "", "", ""
}

func githubUser(u string) string {
	m := githubUserURL.FindStringSubmatch(u)
	if m == nil || githubNonUserPaths[strings.ToLower(m[1])] {
		return ""
	}
	return m[1]
}

func (p *ProductHunt) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("encode producthunt query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create producthunt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call producthunt api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("producthunt api status %d", resp.StatusCode)
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode producthunt response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("producthunt api: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode producthunt data: %w", err)
	}
	return nil
}
