package alert

import (
	"context"
	"fmt"
)

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// Slack posts Block Kit messages to an incoming webhook.
type Slack struct {
	endpoint
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{endpoint: newEndpoint(webhookURL)}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	if err := s.post(ctx, map[string]any{"blocks": slackBlocks(n)}, nil); err != nil {
		return fmt.Errorf("send slack webhook: %w", err)
	}
	return nil
}

// slackBlocks renders a header, the body and, when present, the fields as a
// context line. The title links out when the notification has a URL.
func slackBlocks(n *Notification) []slackBlock {
	body := n.Body
	if n.URL != "" {
		body = fmt.Sprintf("%s\n<%s|Open>", body, n.URL)
	}
	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: n.Title}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}},
	}
	if len(n.Fields) > 0 {
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: fieldLines(n.Fields, "*")}},
		})
	}
	return blocks
}
