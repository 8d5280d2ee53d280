package source

import (
	"context"
	"strings"
	"time"

	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
)

// SourceType identifies which platform an observation came from.
type SourceType string

const (
	SourceGitHub      SourceType = "github"
	SourceHackerNews  SourceType = "hn"
	SourceProductHunt SourceType = "producthunt"
	SourceYC          SourceType = "yc"
)

// Signal is a notable fact seen while collecting, such as a popular repo or a
// front-page post.
type Signal struct {
	Label  string `json:"label"`
	URL    string `json:"url,omitempty"`
	Strong bool   `json:"strong"`
}

// Observation is one sighting of a founder on one platform. Facts is partial:
// only the facts this platform knows about are set.
type Observation struct {
	Source     SourceType
	Handle     string
	SourceID   string
	ProfileURL string

	Name         string
	Company      string
	Bio          string
	Location     string
	FundingStage score.FundingStage
	Incubator    score.Incubator

	Facts   score.Facts
	Repos   []embed.WeightedText
	Posts   []embed.WeightedText
	Signals []Signal

	ActiveAt time.Time
}

// Source is the interface every collector must implement.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Observation, error)
}

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceGitHub, SourceHackerNews, SourceProductHunt, SourceYC}
}

// Handle builds the cross-platform founder key from a platform username.
// The same username on GitHub and Hacker News maps to one founder.
func Handle(username string) string {
	u := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@")))
	if u == "" {
		return ""
	}
	return "@" + u
}
