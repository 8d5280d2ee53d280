// Package anomaly compares consecutive founder and theme snapshots and emits
// emergence events when fixed thresholds are crossed.
package anomaly

import (
	"fmt"
	"time"
)

// EventType is the rule that fired.
type EventType string

const (
	NewTheme        EventType = "new_theme"
	ThemeSpike      EventType = "theme_spike"
	CommitSpike     EventType = "commit_spike"
	StarSpike       EventType = "star_spike"
	HNSpike         EventType = "hn_spike"
	ScoreInflection EventType = "score_inflection"
)

// EntityType says whether an event refers to a founder or a theme.
type EntityType string

const (
	EntityFounder EntityType = "founder"
	EntityTheme   EntityType = "theme"
)

// Status is the user-settable review state of an event.
type Status string

const (
	StatusNew           Status = "new"
	StatusNoted         Status = "noted"
	StatusInvestigating Status = "investigating"
)

// ParseStatus validates a review status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusNew, StatusNoted, StatusInvestigating:
		return st, nil
	}
	return "", fmt.Errorf("invalid event status %q", s)
}

// Event is an immutable record of a detected anomaly. Before and After are
// the compared values, taken from two chronologically ordered snapshots.
type Event struct {
	ID         string     `json:"id" db:"id"`
	Type       EventType  `json:"type" db:"type"`
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	Before     float64    `json:"before" db:"before_value"`
	After      float64    `json:"after" db:"after_value"`
	Confidence float64    `json:"confidence" db:"confidence"`
	Detail     string     `json:"detail" db:"detail"`
	Status     Status     `json:"status" db:"status"`
	DetectedAt time.Time  `json:"detected_at" db:"detected_at"`
}

// Key identifies the (type, entity) pair used for deduplication.
type Key struct {
	Type       EventType
	EntityType EntityType
	EntityID   string
}

// Key returns the dedup key of e.
func (e Event) Key() Key {
	return Key{Type: e.Type, EntityType: e.EntityType, EntityID: e.EntityID}
}
