package theme

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label is the human-readable description of a theme.
type Label struct {
	Name   string `json:"name"`
	Pain   string `json:"pain"`
	Unlock string `json:"unlock"`
	Origin string `json:"origin"`
}

// Summarizer produces a label from the texts of a cluster's members. It is
// optional; Placeholder is used whenever it is absent or fails.
type Summarizer interface {
	Summarize(ctx context.Context, members []Member) (Label, error)
}

const fallbackName = "Emerging Theme"

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "are": true, "has": true, "have": true, "its": true, "into": true,
	"your": true, "you": true, "our": true, "was": true, "not": true, "but": true,
	"all": true, "can": true, "using": true, "use": true, "built": true, "build": true,
	"building": true, "show": true, "new": true, "open": true, "source": true,
	"simple": true, "fast": true, "tool": true, "app": true, "based": true,
}

// Placeholder builds a label without any external call: the three most
// frequent meaningful words across member texts, and an origin summary.
func Placeholder(members []Member) Label {
	return Label{Name: PlaceholderName(members), Origin: Origin(members)}
}

// PlaceholderName joins the top three terms with " + ". Ties break
// alphabetically.
func PlaceholderName(members []Member) string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, t := range m.Texts {
			for _, w := range words(t) {
				counts[w]++
			}
		}
	}
	if len(counts) == 0 {
		return fallbackName
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > 3 {
		terms = terms[:3]
	}
	titler := cases.Title(language.English)
	for i, t := range terms {
		terms[i] = titler.String(t)
	}
	return strings.Join(terms, " + ")
}

func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

type originClass struct {
	label    string
	keywords []string
}

var originClasses = []originClass{
	{"ex-big-tech", []string{"google", "meta", "amazon", "apple", "microsoft", "stripe", "airbnb", "openai", "deepmind", "netflix"}},
	{"researchers", []string{"phd", "researcher", "research", "university", "professor", "lab"}},
	{"serial founders", []string{"serial founder", "exits", "exited", "previously founded", "co-founded"}},
	{"operators", []string{"cto", "vp ", "director", "head of", "principal", "staff engineer", "led "}},
}

// Origin summarises where members come from, e.g.
// "2/3 researchers, 1/3 operators". A member may count in several classes.
func Origin(members []Member) string {
	total := len(members)
	var parts []string
	for _, oc := range originClasses {
		n := 0
		for _, m := range members {
			bio := strings.ToLower(m.Bio)
			for _, k := range oc.keywords {
				if strings.Contains(bio, k) {
					n++
					break
				}
			}
		}
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d/%d %s", n, total, oc.label))
		}
	}
	if len(parts) == 0 {
		return "Mixed backgrounds"
	}
	return strings.Join(parts, ", ")
}

// Describe asks s for a label and falls back to Placeholder on any error or
// empty name. Missing fields are filled from the placeholder.
func Describe(ctx context.Context, s Summarizer, members []Member) (Label, error) {
	ph := Placeholder(members)
	if s == nil {
		return ph, nil
	}
	l, err := s.Summarize(ctx, members)
	if err != nil {
		return ph, err
	}
	if strings.TrimSpace(l.Name) == "" {
		l.Name = ph.Name
	}
	if strings.TrimSpace(l.Origin) == "" {
		l.Origin = ph.Origin
	}
	return l, nil
}
