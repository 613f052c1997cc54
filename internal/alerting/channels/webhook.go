package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warehouse-ops/pipeline/internal/alerting"
)

// WebhookChannel posts alerts to an arbitrary HTTP endpoint with optional
// extra headers.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
	now     func() time.Time
}

func NewWebhookChannel(url string, headers map[string]string) (*WebhookChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}, nil
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	payload, err := json.Marshal(map[string]any{
		"event":     "alert",
		"alert":     alert.AsRecord(),
		"timestamp": c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s returned status %d", c.url, resp.StatusCode)
	}
	return nil
}
