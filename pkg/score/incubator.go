package score

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Program is a recognised incubator or accelerator.
type Program string

const (
	ProgramNone        Program = ""
	ProgramYC          Program = "YC"
	Program500Global   Program = "500 Global"
	ProgramPlugAndPlay Program = "Plug and Play"
	ProgramTechstars   Program = "Techstars"
	ProgramSpeedrun    Program = "a16z Speedrun"
	ProgramHF0         Program = "HF0"
	ProgramPioneer     Program = "Pioneer"
)

// Phase is where a founder sits in an incubator batch. Deal availability
// depends on it because batch founders raise on a known schedule.
type Phase string

const (
	PhaseUnknown     Phase = ""
	PhasePreBatch    Phase = "pre_batch"
	PhaseInBatch     Phase = "in_batch"
	PhasePostDemoDay Phase = "post_demo_day"
)

// Incubator is a detected affiliation.
type Incubator struct {
	Program Program `json:"program,omitempty"`
	Batch   string  `json:"batch,omitempty"`
	Phase   Phase   `json:"phase,omitempty"`
}

// Affiliated reports whether any program was detected.
func (i Incubator) Affiliated() bool { return i.Program != ProgramNone }

func (i Incubator) String() string {
	if i.Batch != "" {
		return string(i.Program) + " " + i.Batch
	}
	return string(i.Program)
}

type programPatterns struct {
	program  Program
	patterns []*regexp.Regexp
}

var incubatorPatterns = []programPatterns{
	{ProgramYC, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bYC\s*[WSFX]\d{2}\b`),
		regexp.MustCompile(`(?i)\bY\s*Combinator\s*[WSFX]\d{2}\b`),
		regexp.MustCompile(`(?i)\bYC\s*(?:Winter|Summer|Fall|Spring)\s*\d{4}\b`),
		regexp.MustCompile(`(?i)\bY\s*Combinator\s*(?:Winter|Summer|Fall|Spring)\s*\d{4}\b`),
		regexp.MustCompile(`(?i)\bYC\s*(?:backed|alum|alumni|batch)\b`),
	}},
	{Program500Global, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b500\s*(?:Global|Startups)\b`),
		regexp.MustCompile(`(?i)\b500\s*Batch\s*\d+\b`),
		regexp.MustCompile(`(?i)\b500\.co\b`),
	}},
	{ProgramPlugAndPlay, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bPlug\s*(?:and|&)\s*Play\b`),
		regexp.MustCompile(`(?i)\bPnP\s*(?:Tech|batch|accelerator)\b`),
	}},
	{ProgramTechstars, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bTechstars\b`),
	}},
	{ProgramSpeedrun, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\ba16z\s*speedrun\b`),
		regexp.MustCompile(`(?i)\bspeedrun\s*SR\d{3}\b`),
	}},
	{ProgramHF0, []*regexp.Regexp{
		regexp.MustCompile(`\bHF0\b`),
	}},
	{ProgramPioneer, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bpioneer\.app\b`),
		regexp.MustCompile(`(?i)\bPioneer\s*(?:winner|tournament|accelerator)\b`),
	}},
}

var (
	ycBatchCode   = regexp.MustCompile(`(?i)[WSFX]\d{2}`)
	ycBatchSeason = regexp.MustCompile(`(?i)(Winter|Summer|Fall|Spring)\s*(\d{4})`)
)

var seasonCodes = map[string]string{"winter": "W", "summer": "S", "fall": "F", "spring": "X"}

// DetectIncubator scans texts in order (bio first, then signal labels) and
// returns the first affiliation found. An HN "Launch YC" title counts as YC.
func DetectIncubator(texts ...string) Incubator {
	for _, text := range texts {
		if text == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "launch yc") {
			return Incubator{Program: ProgramYC}
		}
		for _, pp := range incubatorPatterns {
			for _, re := range pp.patterns {
				m := re.FindString(text)
				if m == "" {
					continue
				}
				inc := Incubator{Program: pp.program}
				if pp.program == ProgramYC {
					inc.Batch = ycBatch(m)
				}
				return inc
			}
		}
	}
	return Incubator{}
}

func ycBatch(matched string) string {
	if code := ycBatchCode.FindString(matched); code != "" {
		return strings.ToUpper(code)
	}
	if m := ycBatchSeason.FindStringSubmatch(matched); m != nil {
		if s, ok := seasonCodes[strings.ToLower(m[1])]; ok {
			return s + m[2][len(m[2])-2:]
		}
	}
	return ""
}

// availabilityAdjustment is the flat bonus or penalty layered on top of the
// blended deal availability score.
func (i Incubator) availabilityAdjustment() float64 {
	var pre, post float64
	switch i.Program {
	case ProgramYC:
		pre, post = 20, -25
	case Program500Global:
		pre, post = 10, -15
	case ProgramPlugAndPlay:
		pre, post = 10, -10
	default:
		return 0
	}
	switch i.Phase {
	case PhasePreBatch:
		return pre
	case PhasePostDemoDay:
		return post
	}
	return 0
}

// qualityBonus rewards any accepted affiliation on founder quality.
func (i Incubator) qualityBonus() float64 {
	if i.Affiliated() {
		return 10
	}
	return 0
}

// batchMonths maps a YC season code to the first and last month of the batch.
// Demo Day closes the last month.
var batchMonths = map[byte][2]time.Month{
	'W': {time.January, time.March},
	'X': {time.April, time.June},
	'S': {time.June, time.August},
	'F': {time.September, time.November},
}

// PhaseAt derives the batch phase at now from a YC batch code such as W26.
// An explicit Phase, or a batch it cannot parse, is returned unchanged.
func (i Incubator) PhaseAt(now time.Time) Phase {
	if i.Phase != PhaseUnknown || len(i.Batch) != 3 {
		return i.Phase
	}
	months, ok := batchMonths[i.Batch[0]]
	if !ok {
		return i.Phase
	}
	yy, err := strconv.Atoi(i.Batch[1:])
	if err != nil {
		return i.Phase
	}
	start := time.Date(2000+yy, months[0], 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2000+yy, months[1]+1, 1, 0, 0, 0, 0, time.UTC)
	switch {
	case now.Before(start):
		return PhasePreBatch
	case now.Before(end):
		return PhaseInBatch
	}
	return PhasePostDemoDay
}
