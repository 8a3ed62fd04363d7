package notify

import (
	"context"
	"encoding/json"
	"os"

	"github.com/slack-go/slack"
	"github.com/spf13/viper"
)

// Event types, mirrored from the Observer callbacks the coordinator invokes.
const (
	EventTaskStart    = "on_task_start"
	EventTaskComplete = "on_task_complete"
	EventTaskFailed   = "on_task_failed"
	EventTaskRetry    = "on_task_retry"
	EventTaskAbort    = "on_task_abort"
	EventWorkerStatus = "on_worker_status"
)

// Severity picks the color a provider renders a notification in, so a
// failed/quarantined task stands out from a routine start/complete in
// a busy channel.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// severityForEvent maps a coordinator lifecycle event to the severity
// its notification should render at.
func severityForEvent(eventType string) Severity {
	switch eventType {
	case EventTaskComplete:
		return SeveritySuccess
	case EventTaskRetry:
		return SeverityWarning
	case EventTaskFailed, EventTaskAbort:
		return SeverityError
	default:
		return SeverityInfo
	}
}

// Manager fans coordinator lifecycle notifications out to whichever of
// Slack/Discord are configured and enabled.
type Manager struct {
	slackClient     *slack.Client
	slackWebhook    *SlackNotifier
	slackChannel    string
	discordNotifier *DiscordBotNotifier

	logger func(string, ...interface{})
}

// ThreadState threads a reply chain across both providers so a retry
// notification can land under the same message as the original start.
type ThreadState struct {
	SlackTS   string `json:"slack_ts,omitempty"`
	DiscordID string `json:"discord_id,omitempty"`
}

// NewManager builds a Manager from viper configuration + environment
// secrets. Either provider is silently disabled if not configured.
func NewManager(logger func(string, ...interface{})) *Manager {
	m := &Manager{logger: logger}
	m.initSlack()
	m.initDiscord()
	return m
}

func (m *Manager) initSlack() {
	if !viper.GetBool("notifications.slack.enabled") {
		return
	}
	m.slackChannel = viper.GetString("notifications.slack.channel")

	botToken := os.Getenv("SLACK_BOT_USER_TOKEN")
	if botToken != "" {
		m.slackClient = slack.New(botToken)
		return
	}

	if webhookURL := os.Getenv("SLACK_WEBHOOK_URL"); webhookURL != "" {
		m.slackWebhook = NewSlackNotifier(webhookURL)
		return
	}

	if m.logger != nil {
		m.logger("slack notifications enabled but neither SLACK_BOT_USER_TOKEN nor SLACK_WEBHOOK_URL is set")
	}
}

func (m *Manager) initDiscord() {
	if !viper.GetBool("notifications.discord.enabled") {
		return
	}

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	channelID := os.Getenv("DISCORD_CHANNEL_ID")
	if channelID == "" {
		channelID = viper.GetString("notifications.discord.channel")
	}

	switch {
	case botToken != "" && channelID != "":
		m.discordNotifier = NewDiscordBotNotifier(botToken, channelID)
	case os.Getenv("DISCORD_WEBHOOK_URL") != "":
		m.discordNotifier = NewDiscordNotifier(os.Getenv("DISCORD_WEBHOOK_URL"))
	default:
		if m.logger != nil {
			m.logger("discord notifications enabled but no bot token/channel or webhook URL is set")
		}
	}
}

// Notify sends message for eventType to every enabled provider,
// threading the reply under threadStateStr's ids when present, and
// returns the updated thread state for the caller to pass back in on
// the next call for the same logical conversation.
func (m *Manager) Notify(ctx context.Context, eventType, message, threadStateStr string) (string, error) {
	if !m.isEnabled(eventType) {
		return threadStateStr, nil
	}

	ts := parseThreadState(threadStateStr)
	severity := severityForEvent(eventType)

	if (m.slackClient != nil || m.slackWebhook != nil) && m.isProviderEnabled("slack") {
		newTS, err := m.notifySlack(ctx, message, severity, ts.SlackTS)
		if err != nil {
			if m.logger != nil {
				m.logger("slack notification failed: %v", err)
			}
		} else {
			ts.SlackTS = newTS
		}
	}

	if m.discordNotifier != nil && m.isProviderEnabled("discord") {
		newID, err := m.discordNotifier.Send(ctx, message, severity, ts.DiscordID)
		if err != nil {
			if m.logger != nil {
				m.logger("discord notification failed: %v", err)
			}
		} else {
			ts.DiscordID = newID
		}
	}

	return dumpThreadState(ts), nil
}

func (m *Manager) notifySlack(ctx context.Context, message string, severity Severity, threadTS string) (string, error) {
	if m.slackClient == nil {
		return "", m.slackWebhook.Notify(ctx, message, severity)
	}

	channelID := m.slackChannel
	if channelID == "" {
		channelID = "#general"
	}

	opts := []slack.MsgOption{slack.MsgOptionAttachments(slack.Attachment{
		Color: slackColor(severity),
		Text:  message,
	})}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, newTS, err := m.slackClient.PostMessageContext(ctx, channelID, opts...)
	return newTS, err
}

func (m *Manager) isEnabled(eventType string) bool {
	if !m.isProviderEnabled("slack") && !m.isProviderEnabled("discord") {
		return false
	}
	return viper.GetBool("notifications.slack.events." + eventType)
}

func (m *Manager) isProviderEnabled(provider string) bool {
	return viper.GetBool("notifications." + provider + ".enabled")
}

// AddReaction reacts to the message(s) referenced by threadStateStr on
// whichever providers are active for that thread.
func (m *Manager) AddReaction(ctx context.Context, threadStateStr, reaction string) error {
	ts := parseThreadState(threadStateStr)

	if m.slackClient != nil && ts.SlackTS != "" {
		channelID := m.slackChannel
		if channelID == "" {
			channelID = "#general"
		}
		if err := m.slackClient.AddReactionContext(ctx, reaction, slack.ItemRef{
			Channel:   channelID,
			Timestamp: ts.SlackTS,
		}); err != nil && m.logger != nil {
			m.logger("failed to add slack reaction %s: %v", reaction, err)
		}
	}

	if m.discordNotifier != nil && ts.DiscordID != "" {
		if err := m.discordNotifier.AddReaction(ctx, ts.DiscordID, reaction); err != nil && m.logger != nil {
			m.logger("failed to add discord reaction %s: %v", reaction, err)
		}
	}

	return nil
}

func parseThreadState(s string) ThreadState {
	var ts ThreadState
	if s == "" {
		return ts
	}
	if err := json.Unmarshal([]byte(s), &ts); err == nil {
		return ts
	}
	// Legacy format: a bare Slack timestamp string.
	return ThreadState{SlackTS: s}
}

func dumpThreadState(ts ThreadState) string {
	if ts.DiscordID == "" && ts.SlackTS != "" {
		return ts.SlackTS
	}
	data, _ := json.Marshal(ts)
	return string(data)
}
