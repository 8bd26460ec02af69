package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// WebhookChannel POSTs events as JSON, retrying transient failures
type WebhookChannel struct {
	url     string
	client  *http.Client
	tries   uint64
	backoff time.Duration
}

// WebhookOption configures a WebhookChannel
type WebhookOption func(*WebhookChannel)

// WithHTTPClient sets the client used for delivery
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookChannel) { w.client = c }
}

// WithRetries sets how many times a delivery is retried and the base backoff
func WithRetries(tries uint64, backoff time.Duration) WebhookOption {
	return func(w *WebhookChannel) {
		w.tries = tries
		w.backoff = backoff
	}
}

// NewWebhookChannel creates a webhook channel for url
func NewWebhookChannel(url string, opts ...WebhookOption) *WebhookChannel {
	w := &WebhookChannel{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		tries:   3,
		backoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookBody struct {
	RuleID  string         `json:"rule_id,omitempty"`
	Event   string         `json:"event"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	SentAt  time.Time      `json:"sent_at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Send POSTs the event. 5xx responses and network errors are retried;
// 4xx responses are not.
func (w *WebhookChannel) Send(ctx context.Context, ruleID, event string, payload map[string]any) error {
	n := Build(ruleID, event, payload)
	body, err := json.Marshal(webhookBody{
		RuleID:  ruleID,
		Event:   event,
		Title:   n.Title,
		Message: n.Message,
		SentAt:  n.Timestamp.UTC(),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook body: %w", err)
	}

	b := retry.WithMaxRetries(w.tries, retry.NewExponential(w.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}

// Close is a no-op for the webhook channel
func (w *WebhookChannel) Close() error {
	return nil
}
