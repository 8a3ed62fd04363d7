package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DiscordBotNotifier sends notifications to Discord via a webhook or
// the bot REST API.
type DiscordBotNotifier struct {
	WebhookURL string
	BotToken   string
	ChannelID  string
	Client     *http.Client
}

// NewDiscordNotifier creates a new DiscordBotNotifier using a webhook.
func NewDiscordNotifier(webhookURL string) *DiscordBotNotifier {
	return &DiscordBotNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NewDiscordBotNotifier creates a new DiscordBotNotifier using a bot token.
func NewDiscordBotNotifier(token, channelID string) *DiscordBotNotifier {
	return &DiscordBotNotifier{
		BotToken:  token,
		ChannelID: channelID,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// discordColor maps a notification's severity to the Discord embed
// color (a packed 0xRRGGBB integer), mirroring slackColor so the two
// providers read as the same event at a glance.
func discordColor(s Severity) int {
	switch s {
	case SeveritySuccess:
		return 0x2eb67d
	case SeverityWarning:
		return 0xecb22e
	case SeverityError:
		return 0xe01e5a
	default:
		return 0x36c5f0
	}
}

// Notify sends a message to the configured Discord webhook or channel.
func (n *DiscordBotNotifier) Notify(ctx context.Context, message string, severity Severity) error {
	_, err := n.Send(ctx, message, severity, "")
	return err
}

// Send sends message as an embed and returns the Discord message ID
// (bot API only; the webhook path returns an empty ID). replyToID, if
// set, threads the reply under a prior message via the bot API's
// message_reference.
func (n *DiscordBotNotifier) Send(ctx context.Context, message string, severity Severity, replyToID string) (string, error) {
	if n.BotToken != "" && n.ChannelID != "" {
		return n.sendBotMessage(ctx, message, severity, replyToID)
	}
	if n.WebhookURL != "" {
		return "", n.sendWebhookMessage(ctx, message, severity)
	}
	return "", fmt.Errorf("discord not configured (missing token/channel or webhook)")
}

func (n *DiscordBotNotifier) sendWebhookMessage(ctx context.Context, message string, severity Severity) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{{
			"description": message,
			"color":       discordColor(severity),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord notification failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (n *DiscordBotNotifier) sendBotMessage(ctx context.Context, message string, severity Severity, replyToID string) (string, error) {
	url := fmt.Sprintf("https://discord.com/api/v10/channels/%s/messages", n.ChannelID)

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{{
			"description": message,
			"color":       discordColor(severity),
		}},
	}
	if replyToID != "" {
		payload["message_reference"] = map[string]string{"message_id": replyToID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+n.BotToken)

	resp, err := n.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", discordAPIError(resp)
	}

	var respData struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode discord response: %w", err)
	}
	return respData.ID, nil
}

// AddReaction adds an emoji reaction to a message. reaction must be
// URL-encoded if unicode, or name:id for custom emojis.
func (n *DiscordBotNotifier) AddReaction(ctx context.Context, messageID, reaction string) error {
	if n.BotToken == "" || n.ChannelID == "" {
		return fmt.Errorf("bot token and channel id required for reactions")
	}

	reaction = mapEmoji(reaction)
	url := fmt.Sprintf("https://discord.com/api/v10/channels/%s/messages/%s/reactions/%s/@me", n.ChannelID, messageID, reaction)

	req, err := http.NewRequestWithContext(ctx, "PUT", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create reaction request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+n.BotToken)

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return discordAPIError(resp)
	}
	return nil
}

// mapEmoji translates a handful of Slack emoji shortcodes passed to
// AddReaction into their Discord form; anything else is passed through
// unchanged.
func mapEmoji(slackEmoji string) string {
	switch slackEmoji {
	case "white_check_mark", ":white_check_mark:":
		return "%E2%9C%85" // ✅
	case "x", ":x:":
		return "%E2%9D%8C" // ❌
	case "warning", ":warning:":
		return "%E2%9A%A0%EF%B8%8F" // ⚠️
	default:
		return slackEmoji
	}
}

func discordAPIError(resp *http.Response) error {
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	return fmt.Errorf("discord api error: %d - %s", resp.StatusCode, buf.String())
}
