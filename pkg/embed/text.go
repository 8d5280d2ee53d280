// Package embed turns founder profiles into vectors through an external
// embedding model, caching results by content hash.
package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// WeightedText is a repo description or post title with a ranking weight
// such as stars or points.
type WeightedText struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Profile is the textual material for one founder.
type Profile struct {
	FounderID        string
	Bio              string
	RepoDescriptions []WeightedText
	PostTitles       []WeightedText
}

// TextOptions bound the assembled profile text.
type TextOptions struct {
	TopN     int
	MaxChars int
}

// DefaultTextOptions keeps the five heaviest texts of each kind and caps the
// result at 2000 characters.
func DefaultTextOptions() TextOptions {
	return TextOptions{TopN: 5, MaxChars: 2000}
}

// ProfileText assembles the bio, the top-N repo descriptions and the top-N
// post titles into one newline-separated document. Lines that are equal
// after NFKC normalisation and case folding appear once. The result is cut
// to MaxChars runes.
func ProfileText(p Profile, opts TextOptions) string {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTextOptions().TopN
	}
	fold := cases.Fold()
	seen := make(map[string]bool)
	var lines []string
	add := func(s string) {
		s = strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
		if s == "" {
			return
		}
		key := fold.String(s)
		if seen[key] {
			return
		}
		seen[key] = true
		lines = append(lines, s)
	}

	add(p.Bio)
	for _, t := range topN(p.RepoDescriptions, opts.TopN) {
		add(t)
	}
	for _, t := range topN(p.PostTitles, opts.TopN) {
		add(t)
	}

	text := strings.Join(lines, "\n")
	if opts.MaxChars > 0 {
		if r := []rune(text); len(r) > opts.MaxChars {
			text = strings.TrimSpace(string(r[:opts.MaxChars]))
		}
	}
	return text
}

func topN(texts []WeightedText, n int) []string {
	sorted := make([]WeightedText, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t.Text) != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].Text < sorted[j].Text
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = t.Text
	}
	return out
}

// ContentHash is the cache key for a profile text: the first 16 hex digits
// of its SHA-256.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
