package theme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const labelPrompt = `You are a venture analyst looking at a cluster of early-stage founders who are independently building in the same direction.

Founders in the cluster:
%s

Describe the shared theme. Respond with a JSON object with these fields:
- "name": a short theme name (2-5 words)
- "pain": one sentence on the customer pain they are all attacking
- "unlock": one sentence on what recently became possible that makes this viable now
- "origin": one short phrase on where these founders come from (e.g. "mostly ex-infra engineers")

Return ONLY the JSON object, no other text.`

// chatAPI describes how one provider's completion endpoint is called.
type chatAPI struct {
	defaultURL   string
	defaultModel string
	path         string
	headers      func(key string) map[string]string
	body         func(model, prompt string) any
	text         func(r io.Reader) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var chatAPIs = map[string]chatAPI{
	"openai": {
		defaultURL:   "https://api.openai.com",
		defaultModel: "gpt-4o-mini",
		path:         "/v1/chat/completions",
		headers: func(key string) map[string]string {
			return map[string]string{"Authorization": "Bearer " + key}
		},
		body: func(model, prompt string) any {
			return struct {
				Model       string        `json:"model"`
				Messages    []chatMessage `json:"messages"`
				Temperature float64       `json:"temperature"`
			}{model, []chatMessage{{"user", prompt}}, 0.2}
		},
		text: func(r io.Reader) (string, error) {
			var out struct {
				Choices []struct {
					Message chatMessage `json:"message"`
				} `json:"choices"`
			}
			if err := json.NewDecoder(r).Decode(&out); err != nil {
				return "", err
			}
			if len(out.Choices) == 0 {
				return "", fmt.Errorf("empty choices")
			}
			return out.Choices[0].Message.Content, nil
		},
	},
	"anthropic": {
		defaultURL:   "https://api.anthropic.com",
		defaultModel: "claude-sonnet-4-20250514",
		path:         "/v1/messages",
		headers: func(key string) map[string]string {
			return map[string]string{"x-api-key": key, "anthropic-version": "2023-06-01"}
		},
		body: func(model, prompt string) any {
			return struct {
				Model     string        `json:"model"`
				MaxTokens int           `json:"max_tokens"`
				Messages  []chatMessage `json:"messages"`
			}{model, 1024, []chatMessage{{"user", prompt}}}
		},
		text: func(r io.Reader) (string, error) {
			var out struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			}
			if err := json.NewDecoder(r).Decode(&out); err != nil {
				return "", err
			}
			if len(out.Content) == 0 {
				return "", fmt.Errorf("empty content")
			}
			return out.Content[0].Text, nil
		},
	},
}

// LLMSummarizer labels themes with a chat completion from OpenAI or Anthropic.
type LLMSummarizer struct {
	client   *http.Client
	provider string
	api      chatAPI
	model    string
	apiKey   string
	baseURL  string
}

// NewLLMSummarizer creates a summarizer for provider. Unknown providers fall
// back to the OpenAI wire format, which most self-hosted gateways speak.
func NewLLMSummarizer(provider, model, apiKey, baseURL string) *LLMSummarizer {
	api, ok := chatAPIs[provider]
	if !ok {
		provider = "openai"
		api = chatAPIs[provider]
	}
	if model == "" {
		model = api.defaultModel
	}
	if baseURL == "" {
		baseURL = api.defaultURL
	}
	return &LLMSummarizer{
		client:   &http.Client{Timeout: 60 * time.Second},
		provider: provider,
		api:      api,
		model:    model,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, members []Member) (Label, error) {
	if len(members) == 0 {
		return Label{}, fmt.Errorf("summarize: no members")
	}

	raw, err := s.complete(ctx, fmt.Sprintf(labelPrompt, describeMembers(members)))
	if err != nil {
		return Label{}, err
	}

	var l Label
	if err := json.Unmarshal([]byte(unfence(raw)), &l); err != nil {
		return Label{}, fmt.Errorf("parse %s label: %w (raw: %s)", s.provider, err, clip(raw, 500))
	}
	return l, nil
}

func (s *LLMSummarizer) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(s.api.body(s.model, prompt))
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", s.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+s.api.path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", s.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.api.headers(s.apiKey) {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", s.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%s status %d: %s", s.provider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	text, err := s.api.text(resp.Body)
	if err != nil {
		return "", fmt.Errorf("decode %s response: %w", s.provider, err)
	}
	return text, nil
}

// describeMembers renders one prompt line per member: bio, company and up to
// five recent work texts.
func describeMembers(members []Member) string {
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(clip(m.Bio, 200))
		if m.Company != "" {
			b.WriteString(" | Company: ")
			b.WriteString(m.Company)
		}
		if texts := m.Texts; len(texts) > 0 {
			if len(texts) > 5 {
				texts = texts[:5]
			}
			b.WriteString(" | Work: ")
			b.WriteString(clip(strings.Join(texts, "; "), 400))
		}
	}
	return b.String()
}

// unfence strips a markdown code block wrapped around a model reply.
func unfence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	if nl := strings.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	} else {
		raw = raw[3:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "```"))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
