package alert

import (
	"context"
	"fmt"
	"time"
)

const (
	colorEvent    = 0xFF6600
	colorCrossing = 0x2ECC71
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// Discord posts embeds to a Discord webhook.
type Discord struct {
	endpoint
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{endpoint: newEndpoint(webhookURL)}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{"embeds": []discordEmbed{discordEmbedFor(n)}}
	if err := d.post(ctx, payload, nil); err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	return nil
}

func discordEmbedFor(n *Notification) discordEmbed {
	e := discordEmbed{
		Title:       n.Title,
		Description: n.Body,
		URL:         n.URL,
		Color:       colorEvent,
	}
	if n.Kind == KindScoreCrossing {
		e.Color = colorCrossing
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	ts := n.At
	if ts.IsZero() {
		ts = time.Now()
	}
	e.Timestamp = ts.UTC().Format(time.RFC3339)
	return e
}
