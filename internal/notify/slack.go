package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier sends notifications to a Slack incoming webhook. This
// is the fallback path the Manager uses when no bot token is
// configured; a bot token routes through the slack-go client instead
// so replies can thread.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// NewSlackNotifier creates a new SlackNotifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// slackColor maps a notification's severity to the attachment color
// bar Slack renders alongside it, so a quarantined task stands out
// from a routine start/complete line in a busy channel.
func slackColor(s Severity) string {
	switch s {
	case SeveritySuccess:
		return "#2eb67d"
	case SeverityWarning:
		return "#ecb22e"
	case SeverityError:
		return "#e01e5a"
	default:
		return "#36c5f0"
	}
}

// Notify sends message to the configured Slack webhook as a single
// colored attachment.
func (s *SlackNotifier) Notify(ctx context.Context, message string, severity Severity) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}

	payload := map[string]interface{}{
		"attachments": []map[string]string{{
			"color": slackColor(severity),
			"text":  message,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed with status: %s", resp.Status)
	}

	return nil
}
