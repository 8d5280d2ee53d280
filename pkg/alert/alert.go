package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/scout/pkg/anomaly"
)

// Kind is what triggered a notification.
type Kind string

const (
	KindEvent         Kind = "emergence_event"
	KindScoreCrossing Kind = "score_crossing"
)

// Field is a labelled value shown under the notification body.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Kind       Kind               `json:"kind"`
	Title      string             `json:"title"`
	Body       string             `json:"body"`
	URL        string             `json:"url,omitempty"`
	EntityType anomaly.EntityType `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	Before     float64            `json:"before"`
	After      float64            `json:"after"`
	Fields     []Field            `json:"fields,omitempty"`
	At         time.Time          `json:"at"`
}

var eventTitles = map[anomaly.EventType]string{
	anomaly.NewTheme:        "New theme",
	anomaly.ThemeSpike:      "Theme spike",
	anomaly.CommitSpike:     "Commit spike",
	anomaly.StarSpike:       "Star spike",
	anomaly.HNSpike:         "Hacker News spike",
	anomaly.ScoreInflection: "Score inflection",
}

// FromEvent builds the notification for a newly emitted event. name is the
// display name of the founder or theme the event refers to.
func FromEvent(e anomaly.Event, name string) *Notification {
	title := eventTitles[e.Type]
	if title == "" {
		title = string(e.Type)
	}
	if name == "" {
		name = e.EntityID
	}
	body := e.Detail
	if body == "" {
		body = fmt.Sprintf("%s went from %.0f to %.0f", name, e.Before, e.After)
	}
	return &Notification{
		Kind:       KindEvent,
		Title:      fmt.Sprintf("%s: %s", title, name),
		Body:       body,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     e.Before,
		After:      e.After,
		Fields: []Field{
			{Name: "Confidence", Value: fmt.Sprintf("%.0f%%", e.Confidence*100)},
			{Name: "Change", Value: fmt.Sprintf("%.0f → %.0f", e.Before, e.After)},
		},
		At: e.DetectedAt,
	}
}

// ScoreCrossing builds the notification for a founder whose composite rose
// from below threshold to at or above it.
func ScoreCrossing(founderID, name string, before, after, threshold int, at time.Time) *Notification {
	return &Notification{
		Kind:       KindScoreCrossing,
		Title:      fmt.Sprintf("%s crossed %d", name, threshold),
		Body:       fmt.Sprintf("Composite score rose from %d to %d.", before, after),
		EntityType: anomaly.EntityFounder,
		EntityID:   founderID,
		Before:     float64(before),
		After:      float64(after),
		Fields:     []Field{{Name: "Composite", Value: fmt.Sprintf("%d", after)}},
		At:         at,
	}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. Every notifier
// is tried; failures are joined.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func fieldLines(fields []Field, bold string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s%s:%s %s", bold, f.Name, bold, f.Value)
	}
	return strings.Join(parts, " | ")
}

// endpoint is the JSON-over-HTTP POST shared by every destination.
type endpoint struct {
	client *http.Client
	url    string
}

func newEndpoint(url string) endpoint {
	return endpoint{client: &http.Client{Timeout: 10 * time.Second}, url: url}
}

// post sends payload as JSON. A []byte payload is sent as is so callers can
// sign the exact bytes.
func (e endpoint) post(ctx context.Context, payload any, headers map[string]string) error {
	body, ok := payload.([]byte)
	if !ok {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
