package source

import "strings"

// DefaultExcludeKeywords drop accounts that are clearly not founders.
var DefaultExcludeKeywords = []string{
	"awesome-", "awesome list", "tutorial", "homework", "course notes",
	"dotfiles", "[bot]", "mirror of", "leetcode",
}

// Filter decides which observations are kept. With no include keywords every
// observation not hit by an exclude keyword passes, so founders are tracked
// regardless of domain.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter creates a filter with the default exclusions plus extras.
func NewFilter(includeKeywords, excludeKeywords []string) *Filter {
	include := make([]string, 0, len(includeKeywords))
	for _, kw := range includeKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			include = append(include, kw)
		}
	}

	exclude := make([]string, 0, len(DefaultExcludeKeywords)+len(excludeKeywords))
	for _, kw := range append(append([]string{}, DefaultExcludeKeywords...), excludeKeywords...) {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			exclude = append(exclude, kw)
		}
	}
	return &Filter{include: include, exclude: exclude}
}

// Matches reports whether text passes the filter.
func (f *Filter) Matches(text string) bool {
	if f == nil {
		return true
	}
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, kw := range f.include {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Keep applies the exclusions to an observation's handle and bio, and the
// inclusions to its whole text.
func (f *Filter) Keep(o Observation) bool {
	if f == nil {
		return true
	}
	if !(&Filter{exclude: f.exclude}).Matches(o.Handle + " " + o.Bio) {
		return false
	}
	parts := []string{o.Bio}
	for _, t := range o.Repos {
		parts = append(parts, t.Text)
	}
	for _, t := range o.Posts {
		parts = append(parts, t.Text)
	}
	return (&Filter{include: f.include}).Matches(strings.Join(parts, " "))
}
