package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, prefixed
// with "sha256=".
const SignatureHeader = "X-Signature-256"

// Webhook posts the raw Notification JSON to any HTTP endpoint.
type Webhook struct {
	endpoint
	secret string
}

// NewWebhook creates a generic webhook notifier. Bodies are signed only when
// secret is non-empty.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{endpoint: newEndpoint(url), secret: secret}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	headers := map[string]string{"User-Agent": "scout/1.0"}
	if w.secret != "" {
		headers[SignatureHeader] = "sha256=" + Sign(body, w.secret)
	}
	if err := w.post(ctx, body, headers); err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret. Receivers compare it
// against SignatureHeader with hmac.Equal.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
