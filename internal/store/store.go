package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/scout/pkg/anomaly"
	"github.com/elonfeng/scout/pkg/score"
	"github.com/elonfeng/scout/pkg/source"
	"github.com/elonfeng/scout/pkg/theme"
)

// ErrNotFound is returned when a founder, theme or event id does not exist.
var ErrNotFound = errors.New("not found")

// FounderStatus is the user-managed pipeline state of a founder.
type FounderStatus string

const (
	StatusToContact FounderStatus = "to_contact"
	StatusWatching  FounderStatus = "watching"
	StatusContacted FounderStatus = "contacted"
	StatusPass      FounderStatus = "pass"
)

// ParseFounderStatus validates a status string.
func ParseFounderStatus(s string) (FounderStatus, error) {
	switch st := FounderStatus(s); st {
	case StatusToContact, StatusWatching, StatusContacted, StatusPass:
		return st, nil
	}
	return "", fmt.Errorf("invalid founder status %q", s)
}

// Founder is a tracked profile with its latest scores.
type Founder struct {
	ID             string             `db:"id" json:"id"`
	Handle         string             `db:"handle" json:"handle"`
	Name           string             `db:"name" json:"name"`
	Company        string             `db:"company" json:"company"`
	Bio            string             `db:"bio" json:"bio"`
	Location       string             `db:"location" json:"location"`
	FundingStage   score.FundingStage `db:"funding_stage" json:"funding_stage"`
	IncubatorName  score.Program      `db:"incubator" json:"-"`
	IncubatorBatch string             `db:"incubator_batch" json:"-"`
	IncubatorPhase score.Phase        `db:"incubator_phase" json:"-"`
	Status         FounderStatus      `db:"status" json:"status"`
	Notes          string             `db:"notes" json:"notes"`
	Composite      int                `db:"composite" json:"composite"`
	ScoredAt       *time.Time         `db:"scored_at" json:"scored_at,omitempty"`
	LastActiveAt   time.Time          `db:"last_active_at" json:"last_active_at"`
	EnrichedAt     *time.Time         `db:"enriched_at" json:"enriched_at,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`

	FounderQuality    float64 `db:"founder_quality" json:"-"`
	ExecutionVelocity float64 `db:"execution_velocity" json:"-"`
	MarketConviction  float64 `db:"market_conviction" json:"-"`
	EarlyTraction     float64 `db:"early_traction" json:"-"`
	DealAvailability  float64 `db:"deal_availability" json:"-"`

	Dimensions score.Vector    `db:"-" json:"dimensions"`
	Incubator  score.Incubator `db:"-" json:"incubator"`
	Facts      score.Facts     `db:"-" json:"facts"`
}

// fill copies the flat columns into the structured fields.
func (f *Founder) fill() {
	f.Dimensions = score.Vector{f.FounderQuality, f.ExecutionVelocity, f.MarketConviction, f.EarlyTraction, f.DealAvailability}
	f.Incubator = score.Incubator{Program: f.IncubatorName, Batch: f.IncubatorBatch, Phase: f.IncubatorPhase}
	if f.Facts == nil {
		f.Facts = score.Facts{}
	}
}

// Profile is what the dimension scorer reads for this founder.
func (f *Founder) Profile() score.Profile {
	return score.Profile{Facts: f.Facts, Bio: f.Bio, FundingStage: f.FundingStage, Incubator: f.Incubator}
}

// Signal is an immutable timestamped fact about a founder.
type Signal struct {
	ID         int64             `db:"id" json:"id"`
	FounderID  string            `db:"founder_id" json:"founder_id"`
	Source     source.SourceType `db:"source" json:"source"`
	Label      string            `db:"label" json:"label"`
	URL        string            `db:"url" json:"url"`
	Strong     bool              `db:"strong" json:"strong"`
	DetectedAt time.Time         `db:"detected_at" json:"detected_at"`
}

// Theme is a detected cluster of founders.
type Theme struct {
	ID             string      `db:"id" json:"id"`
	Name           string      `db:"name" json:"name"`
	Pain           string      `db:"pain" json:"pain"`
	Unlock         string      `db:"unlock" json:"unlock"`
	Origin         string      `db:"origin" json:"origin"`
	CentroidBlob   []byte      `db:"centroid" json:"-"`
	Density        float64     `db:"density" json:"density"`
	BuilderCount   int         `db:"builder_count" json:"builder_count"`
	WeeklyVelocity float64     `db:"weekly_velocity" json:"weekly_velocity"`
	EmergenceScore float64     `db:"emergence_score" json:"emergence_score"`
	Stage          theme.Stage `db:"stage" json:"stage"`
	StageStrikes   int         `db:"stage_strikes" json:"-"`
	FirstDetected  time.Time   `db:"first_detected" json:"first_detected"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`

	Centroid []float64     `db:"-" json:"-"`
	Members  []ThemeMember `db:"-" json:"members"`
}

// MemberIDs returns the founder ids of the theme's members in stored order.
func (t *Theme) MemberIDs() []string {
	ids := make([]string, len(t.Members))
	for i, m := range t.Members {
		ids[i] = m.FounderID
	}
	return ids
}

// ThemeMember is one membership period of a founder in a theme.
type ThemeMember struct {
	ID         int64      `db:"id" json:"-"`
	ThemeID    string     `db:"theme_id" json:"-"`
	FounderID  string     `db:"founder_id" json:"founder_id"`
	Similarity float64    `db:"similarity" json:"similarity"`
	Active     bool       `db:"active" json:"active"`
	JoinedAt   time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt     *time.Time `db:"left_at" json:"left_at,omitempty"`
}

// FounderListOpts controls founder listing. A zero Limit means 100 and a
// negative Limit means no limit.
type FounderListOpts struct {
	Status       FounderStatus
	MinComposite int
	Limit        int
}

// ThemeListOpts controls theme listing.
type ThemeListOpts struct {
	Stage theme.Stage
	Limit int
}

// EventListOpts controls event listing.
type EventListOpts struct {
	Status anomaly.Status
	Type   anomaly.EventType
	Since  time.Time
	Limit  int
}

// FounderUpdate holds the user-editable founder fields. Nil means unchanged.
type FounderUpdate struct {
	Status *FounderStatus
	Notes  *string
}

// Store is the persistence interface.
type Store interface {
	RecordObservations(ctx context.Context, obs []source.Observation, now time.Time) (int, error)
	ApplyEnrichment(ctx context.Context, founderID string, facts score.Facts, at time.Time) error

	GetFounder(ctx context.Context, id string) (*Founder, error)
	ListFounders(ctx context.Context, opts FounderListOpts) ([]Founder, error)
	UpdateFounder(ctx context.Context, id string, upd FounderUpdate) (*Founder, error)
	ListSignals(ctx context.Context, founderID string, limit int) ([]Signal, error)

	ListThemes(ctx context.Context, opts ThemeListOpts) ([]Theme, error)
	GetTheme(ctx context.Context, id string) (*Theme, error)

	ListEvents(ctx context.Context, opts EventListOpts) ([]anomaly.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status anomaly.Status) (*anomaly.Event, error)

	LoadCycleState(ctx context.Context, opts LoadOpts) (*CycleState, error)
	CommitCycle(ctx context.Context, c *CycleCommit) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
