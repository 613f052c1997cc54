package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/warehouse-ops/pipeline/internal/alerting"
)

// SlackChannel posts alerts to a Slack incoming webhook as a colored
// attachment.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook url is required")
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	payload, err := json.Marshal(c.buildPayload(alert))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *SlackChannel) buildPayload(alert *alerting.Alert) map[string]any {
	fields := []map[string]any{
		{"title": "Severity", "value": strings.ToUpper(string(alert.Severity)), "short": true},
		{"title": "Source", "value": alert.Source, "short": true},
		{"title": "Time", "value": alert.Timestamp.Format("2006-01-02 15:04:05 UTC"), "short": true},
		{"title": "Alert ID", "value": alert.ID, "short": true},
	}
	for key, value := range alert.Metadata {
		fields = append(fields, map[string]any{
			"title": key,
			"value": fmt.Sprintf("%v", value),
			"short": true,
		})
	}

	return map[string]any{
		"text": fmt.Sprintf("%s Warehouse Alert: %s", slackSeverityEmoji(alert.Severity), alert.Title),
		"attachments": []map[string]any{
			{
				"color":  slackSeverityColor(alert.Severity),
				"title":  alert.Title,
				"text":   alert.Description,
				"fields": fields,
				"footer": "Warehouse Real-Time Processing System",
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}
}

func slackSeverityColor(s alerting.Severity) string {
	switch s {
	case alerting.SeverityInfo:
		return "#36a64f"
	case alerting.SeverityWarning:
		return "#ff9500"
	case alerting.SeverityError:
		return "#ff0000"
	case alerting.SeverityCritical:
		return "#8B0000"
	default:
		return "#cccccc"
	}
}

func slackSeverityEmoji(s alerting.Severity) string {
	switch s {
	case alerting.SeverityInfo:
		return ":information_source:"
	case alerting.SeverityWarning:
		return ":warning:"
	case alerting.SeverityError:
		return ":x:"
	case alerting.SeverityCritical:
		return ":rotating_light:"
	default:
		return ":bell:"
	}
}
