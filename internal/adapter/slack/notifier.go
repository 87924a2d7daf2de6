// Package slack implements a notifier.Notifier for Slack incoming webhooks.
package slack

import (
	"context"
	"fmt"

	"github.com/Strob0t/ReelForge/internal/adapter/webhook"
	"github.com/Strob0t/ReelForge/internal/port/notifier"
)

const providerName = "slack"

// Notifier sends notifications to Slack via incoming webhook.
type Notifier struct {
	webhookURL string
	client     *webhook.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     webhook.NewClient(providerName),
	}
}

func (n *Notifier) Name() string { return providerName }

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}
	return n.client.PostJSON(ctx, n.webhookURL, buildMessage(notification))
}

func buildMessage(notification notifier.Notification) slackMessage {
	header := fmt.Sprintf("%s %s", levelTag(notification.Level), notification.Title)
	body := notification.Message
	if notification.Link != "" {
		body += fmt.Sprintf("\n<%s|Open review>", notification.Link)
	}

	msg := slackMessage{
		Text: header,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}},
		},
	}

	var meta []slackText
	if notification.RunID != "" {
		meta = append(meta, slackText{Type: "mrkdwn", Text: fmt.Sprintf("Workflow `%s`", notification.RunID)})
	}
	if notification.Source != "" {
		meta = append(meta, slackText{Type: "mrkdwn", Text: fmt.Sprintf("_Source: %s_", notification.Source)})
	}
	if len(meta) > 0 {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "context", Elements: meta})
	}
	return msg
}

func levelTag(level string) string {
	switch level {
	case notifier.LevelSuccess:
		return "[OK]"
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[REVIEW]"
	default:
		return "[INFO]"
	}
}
