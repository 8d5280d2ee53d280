package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/pkg/embed"
	"github.com/elonfeng/scout/pkg/score"
)

const (
	ycCompaniesURL = "https://api.ycombinator.com/v0.1/companies"
	ycPageLimit    = 100
	ycMaxPages     = 20
)

// ycSeasons lists the batch seasons in calendar order with the month each
// batch starts.
var ycSeasons = []struct {
	code  byte
	start time.Month
}{
	{'W', time.January},
	{'X', time.April},
	{'S', time.June},
	{'F', time.September},
}

type ycCompany struct {
	Name            string   `json:"name"`
	Slug            string   `json:"slug"`
	Website         string   `json:"website"`
	OneLiner        string   `json:"oneLiner"`
	LongDescription string   `json:"longDescription"`
	Batch           string   `json:"batch"`
	Status          string   `json:"status"`
	Tags            []string `json:"tags"`
	Locations       []string `json:"locations"`
	URL             string   `json:"url"`
	LaunchedAt      int64    `json:"launchedAt"`
}

type ycPage struct {
	Companies  []ycCompany `json:"companies"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
}

// YC collects companies from the public YC companies API, one batch at a
// time. The API lists companies, not founders, so each company becomes its
// own observation unless its website points at a GitHub account.
type YC struct {
	client  *http.Client
	baseURL string
	batches []string
	filter  *Filter
	logger  *log.Logger
	now     func() time.Time
}

// NewYC creates a YC collector. Batches are codes such as W26; when empty
// the next, current and previous batch are read.
func NewYC(baseURL string, batches []string, filter *Filter, logger *log.Logger) *YC {
	if baseURL == "" {
		baseURL = ycCompaniesURL
	}
	return &YC{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		batches: batches,
		filter:  filter,
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
	}
}

func (y *YC) Name() SourceType { return SourceYC }

// Collect reads every configured batch concurrently. A batch that fails is
// logged and skipped; Collect errors only when no batch could be read.
func (y *YC) Collect(ctx context.Context) ([]Observation, error) {
	batches := y.batches
	if len(batches) == 0 {
		batches = YCBatches(y.now())
	}

	results := make([][]ycCompany, len(batches))
	errs := make([]error, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range batches {
		g.Go(func() error {
			results[i], errs[i] = y.fetchBatch(gctx, b)
			return nil
		})
	}
	g.Wait()

	var (
		out    []Observation
		failed int
	)
	seen := make(map[string]bool)
	for i, b := range batches {
		if errs[i] != nil {
			failed++
			y.logger.Warn("yc batch failed", "batch", b, "err", errs[i])
			continue
		}
		code := strings.ToUpper(b)
		for _, c := range results[i] {
			obs, ok := y.observe(c, code)
			if !ok || seen[obs.Handle] || !y.filter.Keep(obs) {
				continue
			}
			seen[obs.Handle] = true
			out = append(out, obs)
		}
	}
	if failed == len(batches) {
		return nil, fmt.Errorf("yc companies: %w", errs[0])
	}

	y.logger.Debug("yc companies read", "batches", len(batches), "companies", len(out))
	return out, nil
}

func (y *YC) observe(c ycCompany, batch string) (Observation, bool) {
	if c.Slug == "" || strings.EqualFold(c.Status, "inactive") {
		return Observation{}, false
	}
	handle, sourceID := Handle("yc-"+c.Slug), c.Slug
	if gh := githubUser(c.Website); gh != "" {
		handle = Handle(gh)
	}

	obs := Observation{
		Source:     SourceYC,
		Handle:     handle,
		SourceID:   sourceID,
		ProfileURL: c.URL,
		Name:       c.Name,
		Company:    c.Name,
		Bio:        truncate(c.OneLiner, 500),
		Location:   first(c.Locations),
		Incubator:  score.Incubator{Program: score.ProgramYC, Batch: batch},
		Facts:      score.Facts{},
		Signals: []Signal{{
			Label: fmt.Sprintf("YC %s: %s", batch, c.Name),
			URL:   c.URL,
		}},
	}
	text := strings.TrimSpace(c.OneLiner)
	if d := truncate(strings.TrimSpace(c.LongDescription), 400); d != "" {
		text = strings.TrimSpace(text + ". " + d)
	}
	if len(c.Tags) > 0 {
		text = strings.TrimSpace(text + " (" + strings.Join(c.Tags, ", ") + ")")
	}
	if text != "" && y.filter.Matches(text) {
		obs.Posts = []embed.WeightedText{{Text: text, Weight: 1}}
	}
	if c.LaunchedAt > 0 {
		obs.ActiveAt = time.Unix(c.LaunchedAt, 0).UTC()
	}
	return obs, true
}

// fetchBatch pages through one batch. A page that fails after the first
// ends the batch with what was read so far.
func (y *YC) fetchBatch(ctx context.Context, batch string) ([]ycCompany, error) {
	code := strings.ToUpper(strings.TrimSpace(batch))
	if !validYCBatch(code) {
		return nil, fmt.Errorf("invalid yc batch %q", batch)
	}
	var companies []ycCompany
	for page := 1; page <= ycMaxPages; page++ {
		res, err := y.fetchPage(ctx, code, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			y.logger.Warn("yc page failed", "batch", code, "page", page, "err", err)
			break
		}
		companies = append(companies, res.Companies...)
		if len(res.Companies) == 0 || page >= res.TotalPages {
			break
		}
	}
	return companies, nil
}

func (y *YC) fetchPage(ctx context.Context, batch string, page int) (*ycPage, error) {
	params := url.Values{}
	params.Set("batch", batch)
	params.Set("limit", strconv.Itoa(ycPageLimit))
	params.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create yc request: %w", err)
	}
	req.Header.Set("User-Agent", "scout/1.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch yc batch %s: %w", batch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yc batch %s status %d", batch, resp.StatusCode)
	}
	var res ycPage
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode yc batch %s: %w", batch, err)
	}
	return &res, nil
}

func validYCBatch(code string) bool {
	if len(code) != 3 {
		return false
	}
	if _, err := strconv.Atoi(code[1:]); err != nil {
		return false
	}
	for _, s := range ycSeasons {
		if s.code == code[0] {
			return true
		}
	}
	return false
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// YCBatches returns the next, current and previous batch codes at now.
// Companies are listed before their batch starts, so the next batch is
// where pre-batch founders show up.
func YCBatches(now time.Time) []string {
	cur := 0
	for i, s := range ycSeasons {
		if now.Month() >= s.start {
			cur = i
		}
	}
	at := func(offset int) string {
		i, year := cur+offset, now.Year()
		for i < 0 {
			i += len(ycSeasons)
			year--
		}
		for i >= len(ycSeasons) {
			i -= len(ycSeasons)
			year++
		}
		return fmt.Sprintf("%c%02d", ycSeasons[i].code, year%100)
	}
	return []string{at(1), at(0), at(-1)}
}
